package operations

import (
	"context"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
)

// ZoneWithCount annotates a zone with its current agent headcount.
type ZoneWithCount struct {
	Zone            model.Zone
	AssignmentCount int
}

// GetZones returns the zones managed by a district manager, each with
// the number of agents currently assigned.
func (c *Core) GetZones(ctx context.Context, managerID int64) ([]ZoneWithCount, error) {
	zones, err := c.store.ListZonesByManager(ctx, managerID)
	if err != nil {
		return nil, wrap(err, "zone list failed")
	}
	result := make([]ZoneWithCount, 0, len(zones))
	for _, zone := range zones {
		count, err := c.store.CountZoneAssignments(ctx, zone.ID)
		if err != nil {
			return nil, wrap(err, "assignment count failed")
		}
		result = append(result, ZoneWithCount{Zone: zone, AssignmentCount: count})
	}
	return result, nil
}

// GetChildZones returns the direct children of a zone.
func (c *Core) GetChildZones(ctx context.Context, parentID int64) ([]model.Zone, error) {
	if _, err := c.store.GetZone(ctx, parentID); err != nil {
		if repository.IsNoRows(err) {
			return nil, notFound(CodeNotFound, "zone not found")
		}
		return nil, wrap(err, "zone lookup failed")
	}
	zones, err := c.store.ListChildZones(ctx, parentID)
	if err != nil {
		return nil, wrap(err, "zone list failed")
	}
	return zones, nil
}

// ZoneNode is one node of the expanded hierarchy.
type ZoneNode struct {
	Zone     model.Zone
	Children []ZoneNode
}

// zoneLevels is how deep the hierarchy expands, STATE down to VILLAGE.
const zoneLevels = 4

// GetZoneHierarchy expands the tree under rootID, or under every
// top-level zone when rootID is nil.
func (c *Core) GetZoneHierarchy(ctx context.Context, rootID *int64) ([]ZoneNode, error) {
	var roots []model.Zone
	if rootID != nil {
		root, err := c.store.GetZone(ctx, *rootID)
		if err != nil {
			if repository.IsNoRows(err) {
				return nil, notFound(CodeNotFound, "zone not found")
			}
			return nil, wrap(err, "zone lookup failed")
		}
		roots = []model.Zone{root}
	} else {
		var err error
		roots, err = c.store.ListRootZones(ctx)
		if err != nil {
			return nil, wrap(err, "zone list failed")
		}
	}

	nodes := make([]ZoneNode, 0, len(roots))
	for _, root := range roots {
		node, err := c.expandZone(ctx, root, zoneLevels-1)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (c *Core) expandZone(ctx context.Context, zone model.Zone, depth int) (ZoneNode, error) {
	node := ZoneNode{Zone: zone}
	if depth == 0 {
		return node, nil
	}
	children, err := c.store.ListChildZones(ctx, zone.ID)
	if err != nil {
		return ZoneNode{}, wrap(err, "zone list failed")
	}
	for _, child := range children {
		childNode, err := c.expandZone(ctx, child, depth-1)
		if err != nil {
			return ZoneNode{}, err
		}
		node.Children = append(node.Children, childNode)
	}
	return node, nil
}
