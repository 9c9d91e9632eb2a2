package httpapi

import (
	"net/http"

	"github.com/cropfresh/cropfresh-service-auth/internal/operations"
)

type registerBuyerRequest struct {
	FullName     string `json:"fullName"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Phone        string `json:"phone"`
	BusinessName string `json:"businessName"`
	BusinessType string `json:"businessType"`
	GSTNumber    string `json:"gstNumber,omitempty"`
}

func (s *Server) handleRegisterBuyer(w http.ResponseWriter, r *http.Request) {
	var req registerBuyerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.RegisterBuyer(r.Context(), operations.BuyerRegistrationInput{
		FullName:     req.FullName,
		Email:        req.Email,
		Password:     req.Password,
		Phone:        req.Phone,
		BusinessName: req.BusinessName,
		BusinessType: req.BusinessType,
		GSTNumber:    req.GSTNumber,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, otpResponse{Success: true, Sent: result.Sent, ExpiresIn: result.ExpiresIn})
}

type verifyBuyerOtpRequest struct {
	Phone    string `json:"phone"`
	Otp      string `json:"otp"`
	Address  string `json:"address"`
	City     string `json:"city"`
	PinCode  string `json:"pinCode"`
	DeviceID string `json:"deviceId,omitempty"`
}

func (s *Server) handleVerifyBuyerOtp(w http.ResponseWriter, r *http.Request) {
	var req verifyBuyerOtpRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.VerifyBuyerOtp(r.Context(), req.Phone, req.Otp, operations.BuyerAddressInput{
		Address: req.Address,
		City:    req.City,
		PinCode: req.PinCode,
	}, req.DeviceID, clientIP(r), userAgent(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoginResponse(result))
}

type buyerLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId,omitempty"`
}

func (s *Server) handleLoginBuyer(w http.ResponseWriter, r *http.Request) {
	var req buyerLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.LoginBuyer(r.Context(), req.Email, req.Password, req.DeviceID, clientIP(r), userAgent(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoginResponse(result))
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	if err := s.core.ForgotPassword(r.Context(), req.Email); err != nil {
		s.writeDomainError(w, err)
		return
	}
	// Same answer whether or not the address exists.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "If the email is registered, reset instructions have been sent.",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	if req.Token == "" {
		s.badRequest(w, "token is required")
		return
	}
	if err := s.core.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
