package httpapi

import (
	"net/http"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/cropfresh/cropfresh-service-auth/internal/auth"
	"github.com/cropfresh/cropfresh-service-auth/internal/operations"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
)

// orgFromClaims yields the buyer organization the token was minted
// for. Tokens issued before the org existed carry none.
func orgFromClaims(claims *auth.Claims) (int64, bool) {
	if claims == nil || claims.BuyerOrgID == nil {
		return 0, false
	}
	return *claims.BuyerOrgID, true
}

func (s *Server) requireOrg(w http.ResponseWriter, r *http.Request) (int64, *auth.Claims, bool) {
	claims := claimsFromContext(r.Context())
	orgID, ok := orgFromClaims(claims)
	if !ok {
		writeError(w, codes.PermissionDenied, operations.CodeUnauthorized, "no organization bound to this session")
		return 0, nil, false
	}
	return orgID, claims, true
}

type inviteRequest struct {
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role"`
}

type invitationResponse struct {
	Success      bool      `json:"success"`
	InvitationID int64     `json:"invitationId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

func (s *Server) handleInviteTeamMember(w http.ResponseWriter, r *http.Request) {
	orgID, claims, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.InviteTeamMember(r.Context(), operations.InviteInput{
		OrgID:     orgID,
		Email:     req.Email,
		Phone:     req.Phone,
		Role:      req.Role,
		InvitedBy: claims.UserID,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, invitationResponse{
		Success:      true,
		InvitationID: result.InvitationID,
		ExpiresAt:    result.ExpiresAt,
	})
}

type invitationTokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleValidateInvitation(w http.ResponseWriter, r *http.Request) {
	var req invitationTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	if req.Token == "" {
		s.badRequest(w, "token is required")
		return
	}
	preview, err := s.core.ValidateInvitationToken(r.Context(), req.Token)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"email":        preview.Email,
		"role":         preview.Role,
		"businessName": preview.BusinessName,
		"expiresAt":    preview.ExpiresAt,
	})
}

type acceptInvitationRequest struct {
	Token    string `json:"token"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
}

func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	if req.Token == "" {
		s.badRequest(w, "token is required")
		return
	}
	result, err := s.core.AcceptTeamInvitation(r.Context(), req.Token, req.FullName, req.Password, clientIP(r), userAgent(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoginResponse(result))
}

func (s *Server) handleResendInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, claims, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	invitationID, ok := pathID(r, "invitationId")
	if !ok {
		s.badRequest(w, "invitation id must be a positive integer")
		return
	}
	result, err := s.core.ResendTeamInvitation(r.Context(), orgID, invitationID, claims.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationResponse{
		Success:      true,
		InvitationID: result.InvitationID,
		ExpiresAt:    result.ExpiresAt,
	})
}

type teamMemberResponse struct {
	MembershipID int64      `json:"membershipId"`
	UserID       int64      `json:"userId"`
	FullName     string     `json:"fullName,omitempty"`
	Email        string     `json:"email,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Role         string     `json:"role"`
	Status       string     `json:"status"`
	AcceptedAt   *time.Time `json:"acceptedAt,omitempty"`
}

type teamPageResponse struct {
	Success bool                 `json:"success"`
	Items   []teamMemberResponse `json:"items"`
	Total   int                  `json:"total"`
	Page    int                  `json:"page"`
	Limit   int                  `json:"limit"`
}

func (s *Server) handleListTeamMembers(w http.ResponseWriter, r *http.Request) {
	orgID, claims, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	filter := repository.MemberFilter{
		Role:   r.URL.Query().Get("role"),
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
	}
	page, err := s.core.ListTeamMembers(r.Context(), orgID, claims.UserID, filter,
		queryInt(r, "page", 1), queryInt(r, "limit", 20))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]teamMemberResponse, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, teamMemberResponse{
			MembershipID: item.Membership.ID,
			UserID:       item.Membership.UserID,
			FullName:     item.FullName,
			Email:        item.Email,
			Phone:        item.Phone,
			Role:         item.Membership.Role,
			Status:       item.Membership.Status,
			AcceptedAt:   item.Membership.AcceptedAt,
		})
	}
	writeJSON(w, http.StatusOK, teamPageResponse{
		Success: true,
		Items:   items,
		Total:   page.Total,
		Page:    page.Page,
		Limit:   page.Limit,
	})
}

type roleChangeRequest struct {
	Role   string  `json:"role"`
	Reason *string `json:"reason,omitempty"`
}

func (s *Server) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	orgID, claims, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	membershipID, ok := pathID(r, "membershipId")
	if !ok {
		s.badRequest(w, "membership id must be a positive integer")
		return
	}
	var req roleChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	if err := s.core.UpdateTeamMemberRole(r.Context(), orgID, membershipID, req.Role, claims.UserID, req.Reason); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleDeactivateMember(w http.ResponseWriter, r *http.Request) {
	orgID, claims, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	membershipID, ok := pathID(r, "membershipId")
	if !ok {
		s.badRequest(w, "membership id must be a positive integer")
		return
	}
	if err := s.core.DeactivateTeamMember(r.Context(), orgID, membershipID, claims.UserID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	orgID, claims, ok := s.requireOrg(w, r)
	if !ok {
		return
	}
	membershipID, ok := pathID(r, "membershipId")
	if !ok {
		s.badRequest(w, "membership id must be a positive integer")
		return
	}
	if err := s.core.DeleteTeamMember(r.Context(), orgID, membershipID, claims.UserID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
