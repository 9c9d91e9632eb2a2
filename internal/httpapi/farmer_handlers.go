package httpapi

import (
	"net/http"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/operations"
)

func (s *Server) handleRequestFarmerOtp(w http.ResponseWriter, r *http.Request) {
	var req otpLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.RequestFarmerOtp(r.Context(), req.Phone)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, otpResponse{Success: true, Sent: result.Sent, ExpiresIn: result.ExpiresIn})
}

type createFarmerRequest struct {
	Phone    string `json:"phone"`
	Otp      string `json:"otp"`
	Language string `json:"language,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
}

func (s *Server) handleCreateFarmerAccount(w http.ResponseWriter, r *http.Request) {
	var req createFarmerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.CreateFarmerAccount(r.Context(), req.Phone, req.Otp, req.Language, req.DeviceID, clientIP(r), userAgent(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLoginResponse(result))
}

type farmerProfileRequest struct {
	FullName string  `json:"fullName"`
	District string  `json:"district"`
	State    string  `json:"state"`
	Village  *string `json:"village,omitempty"`
	PinCode  *string `json:"pinCode,omitempty"`
	Language string  `json:"language,omitempty"`
}

type farmerProfileResponse struct {
	Success      bool     `json:"success"`
	ID           int64    `json:"id"`
	FullName     string   `json:"fullName"`
	District     *string  `json:"district,omitempty"`
	State        *string  `json:"state,omitempty"`
	Village      *string  `json:"village,omitempty"`
	PinCode      *string  `json:"pinCode,omitempty"`
	FarmSize     *string  `json:"farmSize,omitempty"`
	FarmingTypes []string `json:"farmingTypes,omitempty"`
	MainCrops    []string `json:"mainCrops,omitempty"`
}

func newFarmerProfileResponse(profile model.FarmerProfile) farmerProfileResponse {
	return farmerProfileResponse{
		Success:      true,
		ID:           profile.ID,
		FullName:     profile.FullName,
		District:     profile.District,
		State:        profile.State,
		Village:      profile.Village,
		PinCode:      profile.PinCode,
		FarmSize:     profile.FarmSize,
		FarmingTypes: profile.FarmingTypes,
		MainCrops:    profile.MainCrops,
	}
}

func (s *Server) handleSaveFarmerProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req farmerProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	profile, err := s.core.SaveFarmerProfile(r.Context(), claims.UserID, operations.FarmerProfileInput{
		FullName: req.FullName,
		District: req.District,
		State:    req.State,
		Village:  req.Village,
		PinCode:  req.PinCode,
		Language: req.Language,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFarmerProfileResponse(profile))
}

type farmerProfilePatchRequest struct {
	FullName *string `json:"fullName,omitempty"`
	District *string `json:"district,omitempty"`
	State    *string `json:"state,omitempty"`
	Village  *string `json:"village,omitempty"`
	PinCode  *string `json:"pinCode,omitempty"`
}

func (s *Server) handleUpdateFarmerProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req farmerProfilePatchRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	profile, err := s.core.UpdateFarmerProfile(r.Context(), claims.UserID, operations.FarmerProfilePatch{
		FullName: req.FullName,
		District: req.District,
		State:    req.State,
		Village:  req.Village,
		PinCode:  req.PinCode,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newFarmerProfileResponse(profile))
}

type farmProfileRequest struct {
	FarmSize     string   `json:"farmSize"`
	FarmingTypes []string `json:"farmingTypes,omitempty"`
	MainCrops    []string `json:"mainCrops,omitempty"`
}

func (s *Server) handleSaveFarmProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req farmProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	if err := s.core.SaveFarmProfile(r.Context(), claims.UserID, req.FarmSize, req.FarmingTypes, req.MainCrops); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type paymentRequest struct {
	Type        string `json:"type"`
	UpiID       string `json:"upiId,omitempty"`
	BankAccount string `json:"bankAccount,omitempty"`
	IFSC        string `json:"ifsc,omitempty"`
}

type paymentResponse struct {
	Success  bool    `json:"success"`
	ID       int64   `json:"id"`
	Type     string  `json:"type"`
	UpiID    *string `json:"upiId,omitempty"`
	BankName *string `json:"bankName,omitempty"`
	Verified bool    `json:"verified"`
	Primary  bool    `json:"primary"`
}

func (s *Server) handleAddPaymentDetails(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	details, err := s.core.AddPaymentDetails(r.Context(), claims.UserID, operations.PaymentInput{
		Type:        req.Type,
		UpiID:       req.UpiID,
		BankAccount: req.BankAccount,
		IFSC:        req.IFSC,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse{
		Success:  true,
		ID:       details.ID,
		Type:     details.Type,
		UpiID:    details.UpiID,
		BankName: details.BankName,
		Verified: details.Verified,
		Primary:  details.Primary,
	})
}

type verifyUpiRequest struct {
	UpiID string `json:"upiId"`
}

func (s *Server) handleVerifyUpi(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req verifyUpiRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.VerifyUpi(r.Context(), claims.UserID, req.UpiID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"valid":       result.Valid,
		"accountName": result.AccountName,
	})
}

type setPinRequest struct {
	Pin        string `json:"pin"`
	ConfirmPin string `json:"confirmPin"`
}

func (s *Server) handleSetFarmerPin(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req setPinRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	if err := s.core.SetFarmerPin(r.Context(), claims.UserID, req.Pin, req.ConfirmPin); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type pinLoginRequest struct {
	Phone    string `json:"phone"`
	Pin      string `json:"pin"`
	DeviceID string `json:"deviceId,omitempty"`
}

func (s *Server) handleLoginWithPin(w http.ResponseWriter, r *http.Request) {
	var req pinLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.LoginWithPin(r.Context(), req.Phone, req.Pin, req.DeviceID, clientIP(r), userAgent(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLoginResponse(result))
}
