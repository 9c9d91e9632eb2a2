package httpapi

import (
	"net/http"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/operations"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
)

type zoneResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	ParentID *int64 `json:"parentId,omitempty"`
}

func newZoneResponse(zone model.Zone) zoneResponse {
	return zoneResponse{ID: zone.ID, Name: zone.Name, Type: zone.Type, ParentID: zone.ParentID}
}

type agentResponse struct {
	ID             int64         `json:"id"`
	FullName       string        `json:"fullName"`
	EmployeeID     string        `json:"employeeId"`
	Phone          string        `json:"phone,omitempty"`
	EmploymentType string        `json:"employmentType"`
	Status         string        `json:"status"`
	StartDate      time.Time     `json:"startDate"`
	Zone           *zoneResponse `json:"zone,omitempty"`
}

func newAgentResponse(profile model.AgentProfile, phone string, zone *model.Zone) agentResponse {
	resp := agentResponse{
		ID:             profile.ID,
		FullName:       profile.FullName,
		EmployeeID:     profile.EmployeeID,
		Phone:          phone,
		EmploymentType: profile.EmploymentType,
		Status:         profile.Status,
		StartDate:      profile.StartDate,
	}
	if zone != nil {
		z := newZoneResponse(*zone)
		resp.Zone = &z
	}
	return resp
}

type createAgentRequest struct {
	FullName       string `json:"fullName"`
	Phone          string `json:"phone"`
	ZoneID         int64  `json:"zoneId"`
	StartDate      string `json:"startDate,omitempty"`
	EmploymentType string `json:"employmentType"`
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req createAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	created, err := s.core.CreateFieldAgent(r.Context(), operations.CreateAgentInput{
		FullName:       req.FullName,
		Phone:          req.Phone,
		ZoneID:         req.ZoneID,
		StartDate:      req.StartDate,
		EmploymentType: req.EmploymentType,
		CreatedBy:      claims.UserID,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := newAgentResponse(created.Profile, created.Phone, &created.Zone)
	writeJSON(w, http.StatusCreated, struct {
		Success bool `json:"success"`
		agentResponse
	}{true, resp})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	filter := repository.AgentFilter{
		Status:         r.URL.Query().Get("status"),
		EmploymentType: r.URL.Query().Get("employmentType"),
		ZoneID:         int64(queryInt(r, "zoneId", 0)),
	}
	page, err := s.core.ListFieldAgents(r.Context(), filter,
		queryInt(r, "page", 1), queryInt(r, "limit", 10))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]agentResponse, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, newAgentResponse(item.Profile, item.Phone, item.Zone))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"items":   items,
		"total":   page.Total,
		"page":    page.Page,
		"limit":   page.Limit,
	})
}

func (s *Server) handleAgentDetails(w http.ResponseWriter, r *http.Request) {
	agentID, ok := pathID(r, "agentId")
	if !ok {
		s.badRequest(w, "agent id must be a positive integer")
		return
	}
	details, err := s.core.GetAgentDetails(r.Context(), agentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := newAgentResponse(details.Profile, details.Phone, details.Zone)
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		agentResponse
	}{true, resp})
}

type deactivateAgentRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	agentID, ok := pathID(r, "agentId")
	if !ok {
		s.badRequest(w, "agent id must be a positive integer")
		return
	}
	var req deactivateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	if err := s.core.DeactivateAgent(r.Context(), agentID, req.Reason, claims.UserID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type reassignZoneRequest struct {
	ZoneID        int64  `json:"zoneId"`
	EffectiveFrom string `json:"effectiveFrom,omitempty"`
}

func (s *Server) handleReassignAgentZone(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	agentID, ok := pathID(r, "agentId")
	if !ok {
		s.badRequest(w, "agent id must be a positive integer")
		return
	}
	var req reassignZoneRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	var effectiveFrom time.Time
	if req.EffectiveFrom != "" {
		parsed, err := time.Parse("2006-01-02", req.EffectiveFrom)
		if err != nil {
			s.badRequest(w, "effectiveFrom must be YYYY-MM-DD")
			return
		}
		effectiveFrom = parsed
	}
	if err := s.core.ReassignAgentZone(r.Context(), agentID, req.ZoneID, claims.UserID, effectiveFrom); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleCompleteTraining is reachable by an admin for any agent and by
// the agent for their own record.
func (s *Server) handleCompleteTraining(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	agentID, ok := pathID(r, "agentId")
	if !ok {
		s.badRequest(w, "agent id must be a positive integer")
		return
	}
	details, err := s.core.GetAgentDetails(r.Context(), agentID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if claims.UserType != model.RoleAdmin && details.Profile.UserID != claims.UserID {
		writeError(w, codes.PermissionDenied, operations.CodeUnauthorized, "insufficient permissions")
		return
	}
	alreadyDone, err := s.core.CompleteAgentTraining(r.Context(), details.Profile.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"alreadyCompleted": alreadyDone,
	})
}

type agentFirstLoginRequest struct {
	Phone string `json:"phone"`
	Pin   string `json:"pin"`
}

func (s *Server) handleAgentFirstLogin(w http.ResponseWriter, r *http.Request) {
	var req agentFirstLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.AgentFirstLogin(r.Context(), req.Phone, req.Pin)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"temporaryToken":    result.TemporaryToken,
		"expiresIn":         result.ExpiresIn,
		"requiresPinChange": result.RequiresPinChange,
	})
}

type agentSetPinRequest struct {
	TemporaryToken string `json:"temporaryToken"`
	Pin            string `json:"pin"`
	ConfirmPin     string `json:"confirmPin"`
}

func (s *Server) handleAgentSetPin(w http.ResponseWriter, r *http.Request) {
	var req agentSetPinRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.AgentSetPin(r.Context(), req.TemporaryToken, req.Pin, req.ConfirmPin, clientIP(r), userAgent(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		loginResponse
		RequiresTraining bool `json:"requiresTraining"`
	}{newLoginResponse(operations.LoginResult{Tokens: result.Tokens, User: result.User}), result.RequiresTraining})
}

func (s *Server) handleAgentDashboard(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	dashboard, err := s.core.GetAgentDashboard(r.Context(), claims.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := map[string]interface{}{
		"success":  true,
		"agent":    newAgentResponse(dashboard.Profile, "", nil),
		"teamSize": dashboard.TeamSize,
	}
	if dashboard.Zone != nil {
		resp["zone"] = newZoneResponse(*dashboard.Zone)
	}
	if len(dashboard.ZonePath) > 0 {
		path := make([]zoneResponse, 0, len(dashboard.ZonePath))
		for _, zone := range dashboard.ZonePath {
			path = append(path, newZoneResponse(zone))
		}
		resp["zonePath"] = path
	}
	writeJSON(w, http.StatusOK, resp)
}

type zoneNodeResponse struct {
	zoneResponse
	Children []zoneNodeResponse `json:"children,omitempty"`
}

func newZoneNodeResponse(node operations.ZoneNode) zoneNodeResponse {
	resp := zoneNodeResponse{zoneResponse: newZoneResponse(node.Zone)}
	for _, child := range node.Children {
		resp.Children = append(resp.Children, newZoneNodeResponse(child))
	}
	return resp
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	if r.URL.Query().Get("tree") == "1" {
		var rootID *int64
		if raw := queryInt(r, "rootId", 0); raw > 0 {
			id := int64(raw)
			rootID = &id
		}
		nodes, err := s.core.GetZoneHierarchy(r.Context(), rootID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		items := make([]zoneNodeResponse, 0, len(nodes))
		for _, node := range nodes {
			items = append(items, newZoneNodeResponse(node))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "items": items})
		return
	}

	if parentID := queryInt(r, "parentId", 0); parentID > 0 {
		zones, err := s.core.GetChildZones(r.Context(), int64(parentID))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		items := make([]zoneResponse, 0, len(zones))
		for _, zone := range zones {
			items = append(items, newZoneResponse(zone))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "items": items})
		return
	}

	zones, err := s.core.GetZones(r.Context(), claims.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	type managedZone struct {
		zoneResponse
		AgentCount int `json:"agentCount"`
	}
	items := make([]managedZone, 0, len(zones))
	for _, zone := range zones {
		items = append(items, managedZone{newZoneResponse(zone.Zone), zone.AssignmentCount})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "items": items})
}
