package httpapi

import (
	"net/http"
	"time"

	"github.com/cropfresh/cropfresh-service-auth/internal/operations"
)

type otpLoginRequest struct {
	Phone string `json:"phone"`
}

type otpResponse struct {
	Success   bool `json:"success"`
	Sent      bool `json:"sent"`
	ExpiresIn int  `json:"expiresIn"`
}

func (s *Server) handleRequestLoginOtp(w http.ResponseWriter, r *http.Request) {
	var req otpLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.RequestLoginOtp(r.Context(), req.Phone)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, otpResponse{Success: true, Sent: result.Sent, ExpiresIn: result.ExpiresIn})
}

type verifyOtpRequest struct {
	Phone    string `json:"phone"`
	Otp      string `json:"otp"`
	DeviceID string `json:"deviceId,omitempty"`
}

type loginResponse struct {
	Success      bool                   `json:"success"`
	AccessToken  string                 `json:"accessToken"`
	RefreshToken string                 `json:"refreshToken"`
	ExpiresAt    time.Time              `json:"expiresAt"`
	User         operations.UserSummary `json:"user"`
}

func newLoginResponse(result operations.LoginResult) loginResponse {
	return loginResponse{
		Success:      true,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		ExpiresAt:    result.Tokens.ExpiresAt,
		User:         result.User,
	}
}

func (s *Server) handleVerifyLoginOtp(w http.ResponseWriter, r *http.Request) {
	var req verifyOtpRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.VerifyLoginOtp(r.Context(), req.Phone, req.Otp, req.DeviceID, clientIP(r), userAgent(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoginResponse(result))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Logout(r.Context(), bearerToken(r.Header.Get("Authorization"))); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	if req.RefreshToken == "" {
		s.badRequest(w, "refreshToken is required")
		return
	}
	result, err := s.core.RefreshToken(r.Context(), req.RefreshToken, clientIP(r), userAgent(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoginResponse(result))
}

type tokenStatusResponse struct {
	Success   bool       `json:"success"`
	Valid     bool       `json:"valid"`
	UserID    int64      `json:"userId,omitempty"`
	UserType  string     `json:"userType,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (s *Server) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	status, err := s.core.VerifyToken(r.Context(), bearerToken(r.Header.Get("Authorization")))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := tokenStatusResponse{Success: true, Valid: status.Valid}
	if status.Valid {
		resp.UserID = status.UserID
		resp.UserType = status.UserType
		expires := status.ExpiresAt
		resp.ExpiresAt = &expires
	}
	writeJSON(w, http.StatusOK, resp)
}
