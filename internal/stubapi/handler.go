package stubapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/and161185/delta-auth/internal/model"
)

const maxBodyBytes = 1 << 20

// Handler exposes a Service over HTTP+JSON.
type Handler struct {
	svc *Service
	log *zap.Logger
}

// NewHandler builds the stub API router. Routes live under /api/auth.
func NewHandler(svc *Service, log *zap.Logger, allowedOrigins []string) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{svc: svc, log: log}

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", headerRequestID},
		ExposedHeaders: []string{headerRequestID},
		MaxAge:         3600,
	})

	r := chi.NewRouter()
	r.Use(recoverer(log), logging(log), c.Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Post("/register", h.register)
		r.Post("/refresh", h.refresh)
		r.Post("/forgot-password", h.forgotPassword)
		r.Post("/reset-password", h.resetPassword)
		r.Post("/social/{provider}", h.socialLogin)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth(svc))
			r.Post("/logout", h.logout)
			r.Post("/change-password", h.changePassword)
			r.Put("/profile", h.updateProfile)
			r.Delete("/account", h.deleteAccount)
			r.Post("/send-verification-email", h.sendVerification)
			r.Post("/verify-email", h.verifyEmail)
		})
	})
	return r
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var creds model.LoginCredentials
	if !decode(w, r, &creds) {
		return
	}
	resp, err := h.svc.Login(r.Context(), creds, r.RemoteAddr)
	h.respond(w, http.StatusOK, resp, err)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var data model.RegisterData
	if !decode(w, r, &data) {
		return
	}
	resp, err := h.svc.Register(r.Context(), data)
	h.respond(w, http.StatusCreated, resp, err)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decode(w, r, &body) {
		return
	}
	resp, err := h.svc.Refresh(r.Context(), body.RefreshToken)
	h.respond(w, http.StatusOK, resp, err)
}

func (h *Handler) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.respond(w, http.StatusNoContent, nil, h.svc.ForgotPassword(r.Context(), body.Email))
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.respond(w, http.StatusNoContent, nil, h.svc.ResetPassword(r.Context(), body.Token, body.Password))
}

func (h *Handler) socialLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if !decode(w, r, &body) {
		return
	}
	resp, err := h.svc.SocialLogin(r.Context(), chi.URLParam(r, "provider"), body.AccessToken)
	h.respond(w, http.StatusOK, resp, err)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromCtx(r.Context())
	h.respond(w, http.StatusNoContent, nil, h.svc.Logout(r.Context(), c))
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decode(w, r, &body) {
		return
	}
	c, _ := ClaimsFromCtx(r.Context())
	h.respond(w, http.StatusNoContent, nil, h.svc.ChangePassword(r.Context(), c, body.CurrentPassword, body.NewPassword))
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var upd model.ProfileUpdate
	if !decode(w, r, &upd) {
		return
	}
	c, _ := ClaimsFromCtx(r.Context())
	u, err := h.svc.UpdateProfile(r.Context(), c, upd)
	if err != nil {
		h.respond(w, 0, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": u})
}

func (h *Handler) deleteAccount(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromCtx(r.Context())
	h.respond(w, http.StatusNoContent, nil, h.svc.DeleteAccount(r.Context(), c))
}

func (h *Handler) sendVerification(w http.ResponseWriter, r *http.Request) {
	c, _ := ClaimsFromCtx(r.Context())
	h.respond(w, http.StatusNoContent, nil, h.svc.SendVerificationEmail(r.Context(), c))
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &body) {
		return
	}
	c, _ := ClaimsFromCtx(r.Context())
	h.respond(w, http.StatusNoContent, nil, h.svc.VerifyEmail(r.Context(), c, body.Token))
}

// respond writes v with status on success, or the mapped error.
func (h *Handler) respond(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			h.log.Error("internal error", zap.Error(err))
			apiErr = &Error{Status: http.StatusInternalServerError, Code: "internal", Message: "Internal server error"}
		}
		writeError(w, apiErr)
		return
	}
	if status == http.StatusNoContent || v == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, v)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, badRequest("", "Malformed JSON body"))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, e *Error) {
	writeJSON(w, e.Status, model.APIError{Message: e.Message, Code: e.Code, Field: e.Field})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
