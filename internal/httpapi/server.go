package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/cropfresh/cropfresh-service-auth/internal/auth"
	"github.com/cropfresh/cropfresh-service-auth/internal/config"
	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/operations"
)

// Server is the JSON façade over the operations core. It owns request
// decoding, the claims middleware and the single translation table
// from canonical status codes to HTTP statuses.
type Server struct {
	cfg    config.Config
	core   *operations.Core
	logger *zap.Logger
}

func NewServer(cfg config.Config, core *operations.Core, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, core: core, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/otp/request", s.handleRequestFarmerOtp)
		r.Post("/otp/login", s.handleRequestLoginOtp)
		r.Post("/otp/verify", s.handleVerifyLoginOtp)
		r.Post("/login", s.handleVerifyLoginOtp)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/verify", s.handleVerifyToken)
		r.With(s.authenticate).Post("/logout", s.handleLogout)
	})

	r.Route("/farmer", func(r chi.Router) {
		r.Post("/account", s.handleCreateFarmerAccount)
		r.Post("/login/pin", s.handleLoginWithPin)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate, s.requireRole(model.RoleFarmer))
			r.Post("/profile", s.handleSaveFarmerProfile)
			r.Patch("/profile", s.handleUpdateFarmerProfile)
			r.Post("/farm", s.handleSaveFarmProfile)
			r.Post("/payment", s.handleAddPaymentDetails)
			r.Post("/payment/verify-upi", s.handleVerifyUpi)
			r.Post("/pin", s.handleSetFarmerPin)
		})
	})

	r.Route("/buyer", func(r chi.Router) {
		r.Post("/register", s.handleRegisterBuyer)
		r.Post("/verify-otp", s.handleVerifyBuyerOtp)
		r.Post("/login", s.handleLoginBuyer)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/reset-password", s.handleResetPassword)
		r.With(s.authenticate).Post("/logout", s.handleLogout)
	})

	r.Route("/team", func(r chi.Router) {
		r.Post("/invitations/validate", s.handleValidateInvitation)
		r.Post("/invitations/accept", s.handleAcceptInvitation)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate, s.requireRole(model.RoleBuyer))
			r.Post("/invitations", s.handleInviteTeamMember)
			r.Post("/invitations/{invitationId}/resend", s.handleResendInvitation)
			r.Get("/members", s.handleListTeamMembers)
			r.Patch("/members/{membershipId}/role", s.handleUpdateMemberRole)
			r.Post("/members/{membershipId}/deactivate", s.handleDeactivateMember)
			r.Delete("/members/{membershipId}", s.handleDeleteMember)
		})
	})

	r.Route("/hauler", func(r chi.Router) {
		r.Post("/register/step1", s.handleHaulerStep1)
		r.Post("/register/verify-otp", s.handleHaulerVerifyOtp)
		r.Post("/register/vehicle", s.handleHaulerVehicle)
		r.Post("/register/license", s.handleHaulerLicense)
		r.Post("/register/payment", s.handleHaulerPayment)
		r.Post("/register/submit", s.handleHaulerSubmit)
		r.Get("/eligibility", s.handleVehicleEligibility)
		r.With(s.authenticate, s.requireRole(model.RoleHauler)).Get("/profile", s.handleHaulerProfile)
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate, s.requireRole(model.RoleAdmin))
			r.Get("/verifications", s.handlePendingHaulers)
			r.Post("/verifications/{haulerId}", s.handleVerifyHauler)
		})
	})

	r.Route("/agents", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/{agentId}/training/complete", s.handleCompleteTraining)
		r.Group(func(r chi.Router) {
			r.Use(s.requireRole(model.RoleAdmin))
			r.Post("/", s.handleCreateAgent)
			r.Get("/", s.handleListAgents)
			r.Get("/{agentId}", s.handleAgentDetails)
			r.Post("/{agentId}/deactivate", s.handleDeactivateAgent)
			r.Post("/{agentId}/zone", s.handleReassignAgentZone)
		})
	})

	r.Route("/agent", func(r chi.Router) {
		r.Post("/first-login", s.handleAgentFirstLogin)
		r.Post("/pin", s.handleAgentSetPin)
		r.With(s.authenticate, s.requireRole(model.RoleAgent)).Get("/dashboard", s.handleAgentDashboard)
	})

	r.With(s.authenticate, s.requireRole(model.RoleAdmin, model.RoleAgent)).Get("/zones", s.handleZones)

	return r
}

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// authenticate parses the bearer token into claims. Purpose-bound
// tokens only open the endpoint that consumes them, never this gate.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, codes.Unauthenticated, operations.CodeUnauthorized, "missing bearer token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil || claims.Purpose != "" {
			writeError(w, codes.Unauthenticated, operations.CodeUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				writeError(w, codes.Unauthenticated, operations.CodeUnauthorized, "missing bearer token")
				return
			}
			for _, role := range roles {
				if claims.UserType == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, codes.PermissionDenied, operations.CodeUnauthorized, "insufficient permissions")
		})
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request) *string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		return &ip
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return &realIP
	}
	if r.RemoteAddr != "" {
		host := r.RemoteAddr
		if idx := strings.LastIndex(host, ":"); idx > 0 {
			host = host[:idx]
		}
		return &host
	}
	return nil
}

func userAgent(r *http.Request) *string {
	if ua := r.UserAgent(); ua != "" {
		return &ua
	}
	return nil
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func pathID(r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorEnvelope struct {
	Success           bool       `json:"success"`
	Status            int        `json:"status"`
	Code              string     `json:"code"`
	Message           string     `json:"message"`
	RemainingAttempts *int       `json:"remainingAttempts,omitempty"`
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
	Rules             []string   `json:"rules,omitempty"`
}

func writeError(w http.ResponseWriter, status codes.Code, code, message string) {
	httpStatus := httpStatusFor(status)
	writeJSON(w, httpStatus, errorEnvelope{
		Status:  httpStatus,
		Code:    code,
		Message: message,
	})
}

// writeDomainError serializes an *operations.Error, carrying its
// attempt counters and lockout deadline through to the client.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *operations.Error
	if !errors.As(err, &domainErr) {
		s.logger.Error("unclassified handler error", zap.Error(err))
		writeError(w, codes.Internal, operations.CodeInternal, "internal error")
		return
	}
	httpStatus := httpStatusFor(domainErr.Status)
	writeJSON(w, httpStatus, errorEnvelope{
		Status:            httpStatus,
		Code:              domainErr.Code,
		Message:           domainErr.Message,
		RemainingAttempts: domainErr.RemainingAttempts,
		LockedUntil:       domainErr.LockedUntil,
		Rules:             domainErr.Rules,
	})
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	writeError(w, codes.InvalidArgument, operations.CodeInvalidArgument, message)
}

func httpStatusFor(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
