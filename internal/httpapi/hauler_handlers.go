package httpapi

import (
	"net/http"
	"time"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/operations"
)

type haulerStep1Request struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	District string `json:"district,omitempty"`
}

func (s *Server) handleHaulerStep1(w http.ResponseWriter, r *http.Request) {
	var req haulerStep1Request
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	result, err := s.core.HaulerRegisterStep1(r.Context(), operations.HaulerStep1Input{
		FullName: req.FullName,
		Phone:    req.Phone,
		District: req.District,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"registrationToken": result.RegistrationToken,
		"sent":              result.Sent,
		"expiresIn":         result.ExpiresIn,
	})
}

type haulerProfileResponse struct {
	Success            bool    `json:"success"`
	ID                 int64   `json:"id"`
	FullName           string  `json:"fullName"`
	District           *string `json:"district,omitempty"`
	VehicleType        string  `json:"vehicleType,omitempty"`
	VehicleNumber      string  `json:"vehicleNumber,omitempty"`
	PayloadCapacityKg  float64 `json:"payloadCapacityKg,omitempty"`
	CurrentStep        int     `json:"currentStep"`
	VerificationStatus string  `json:"verificationStatus"`
}

func newHaulerProfileResponse(profile model.HaulerProfile) haulerProfileResponse {
	resp := haulerProfileResponse{
		Success:            true,
		ID:                 profile.ID,
		FullName:           profile.FullName,
		District:           profile.District,
		VehicleType:        profile.VehicleType,
		VehicleNumber:      profile.VehicleNumber,
		PayloadCapacityKg:  profile.PayloadCapacityKg,
		CurrentStep:        profile.CurrentStep,
		VerificationStatus: profile.VerificationStatus,
	}
	// Placeholder vehicle data from the stub row never leaves the API.
	if profile.CurrentStep < 2 {
		resp.VehicleType = ""
		resp.VehicleNumber = ""
		resp.PayloadCapacityKg = 0
	}
	return resp
}

type haulerVerifyOtpRequest struct {
	RegistrationToken string `json:"registrationToken"`
	Otp               string `json:"otp"`
}

func (s *Server) handleHaulerVerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req haulerVerifyOtpRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	profile, err := s.core.HaulerVerifyOtp(r.Context(), req.RegistrationToken, req.Otp)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newHaulerProfileResponse(profile))
}

type haulerVehicleRequest struct {
	RegistrationToken string  `json:"registrationToken"`
	VehicleType       string  `json:"vehicleType"`
	VehicleNumber     string  `json:"vehicleNumber"`
	PayloadCapacityKg float64 `json:"payloadCapacityKg"`
	PhotoFrontURL     string  `json:"photoFrontUrl"`
	PhotoSideURL      string  `json:"photoSideUrl"`
	PhotoOtherURL     string  `json:"photoOtherUrl,omitempty"`
}

func (s *Server) handleHaulerVehicle(w http.ResponseWriter, r *http.Request) {
	var req haulerVehicleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	profile, err := s.core.HaulerAddVehicleInfo(r.Context(), req.RegistrationToken, operations.VehicleInput{
		VehicleType:       req.VehicleType,
		VehicleNumber:     req.VehicleNumber,
		PayloadCapacityKg: req.PayloadCapacityKg,
		PhotoFrontURL:     req.PhotoFrontURL,
		PhotoSideURL:      req.PhotoSideURL,
		PhotoOtherURL:     req.PhotoOtherURL,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newHaulerProfileResponse(profile))
}

type haulerLicenseRequest struct {
	RegistrationToken string `json:"registrationToken"`
	DLNumber          string `json:"dlNumber"`
	DLExpiry          string `json:"dlExpiry"`
	DLFrontURL        string `json:"dlFrontUrl"`
	DLBackURL         string `json:"dlBackUrl"`
}

func (s *Server) handleHaulerLicense(w http.ResponseWriter, r *http.Request) {
	var req haulerLicenseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	profile, err := s.core.HaulerAddLicenseInfo(r.Context(), req.RegistrationToken, operations.LicenseInput{
		DLNumber:   req.DLNumber,
		DLExpiry:   req.DLExpiry,
		DLFrontURL: req.DLFrontURL,
		DLBackURL:  req.DLBackURL,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newHaulerProfileResponse(profile))
}

type haulerPaymentRequest struct {
	RegistrationToken string `json:"registrationToken"`
	UpiID             string `json:"upiId"`
	BankAccount       string `json:"bankAccount,omitempty"`
	IFSC              string `json:"ifsc,omitempty"`
}

func (s *Server) handleHaulerPayment(w http.ResponseWriter, r *http.Request) {
	var req haulerPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	profile, err := s.core.HaulerAddPaymentInfo(r.Context(), req.RegistrationToken, operations.HaulerPaymentInput{
		UpiID:       req.UpiID,
		BankAccount: req.BankAccount,
		IFSC:        req.IFSC,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newHaulerProfileResponse(profile))
}

type haulerSubmitRequest struct {
	RegistrationToken string `json:"registrationToken"`
}

func (s *Server) handleHaulerSubmit(w http.ResponseWriter, r *http.Request) {
	var req haulerSubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	profile, err := s.core.HaulerSubmitRegistration(r.Context(), req.RegistrationToken)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newHaulerProfileResponse(profile))
}

type documentResponse struct {
	Type       string    `json:"type"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploadedAt"`
}

func mapDocuments(docs []model.HaulerDocument) []documentResponse {
	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentResponse{Type: doc.Type, URL: doc.URL, UploadedAt: doc.UploadedAt})
	}
	return out
}

type pendingHaulerResponse struct {
	ID                int64              `json:"id"`
	FullName          string             `json:"fullName"`
	Phone             string             `json:"phone"`
	District          *string            `json:"district,omitempty"`
	VehicleType       string             `json:"vehicleType"`
	VehicleNumber     string             `json:"vehicleNumber"`
	PayloadCapacityKg float64            `json:"payloadCapacityKg"`
	DLNumber          string             `json:"dlNumber"`
	SubmittedAt       time.Time          `json:"submittedAt"`
	Documents         []documentResponse `json:"documents"`
}

func (s *Server) handlePendingHaulers(w http.ResponseWriter, r *http.Request) {
	var district *string
	if raw := r.URL.Query().Get("district"); raw != "" {
		district = &raw
	}
	page, err := s.core.GetPendingHaulerVerifications(r.Context(),
		queryInt(r, "page", 1), queryInt(r, "limit", 10), district)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	items := make([]pendingHaulerResponse, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, pendingHaulerResponse{
			ID:                item.Profile.ID,
			FullName:          item.Profile.FullName,
			Phone:             item.Phone,
			District:          item.Profile.District,
			VehicleType:       item.Profile.VehicleType,
			VehicleNumber:     item.Profile.VehicleNumber,
			PayloadCapacityKg: item.Profile.PayloadCapacityKg,
			DLNumber:          item.MaskedDL,
			SubmittedAt:       item.Profile.UpdatedAt,
			Documents:         mapDocuments(item.Documents),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"items":   items,
		"total":   page.Total,
		"page":    page.Page,
		"limit":   page.Limit,
	})
}

type verifyHaulerRequest struct {
	Action          string `json:"action"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}

func (s *Server) handleVerifyHauler(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	haulerID, ok := pathID(r, "haulerId")
	if !ok {
		s.badRequest(w, "hauler id must be a positive integer")
		return
	}
	var req verifyHaulerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, "request body is not valid JSON")
		return
	}
	profile, err := s.core.VerifyHaulerAccount(r.Context(), operations.VerifyHaulerInput{
		HaulerID:        haulerID,
		Action:          req.Action,
		RejectionReason: req.RejectionReason,
		VerifiedBy:      claims.UserID,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":            true,
		"id":                 profile.ID,
		"verificationStatus": profile.VerificationStatus,
	})
}

func (s *Server) handleVehicleEligibility(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"items":   s.core.VehicleEligibility(),
	})
}

func (s *Server) handleHaulerProfile(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	view, err := s.core.GetHaulerProfile(r.Context(), claims.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		haulerProfileResponse
		Phone     string             `json:"phone"`
		Documents []documentResponse `json:"documents"`
	}{newHaulerProfileResponse(view.Profile), view.Phone, mapDocuments(view.Documents)})
}
