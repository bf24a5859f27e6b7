package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"authbridge/internal/auth"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// maxVerifyBody bounds the POST /auth/verify body.
const maxVerifyBody = 16 << 10

// AuthHandlerOptions configures an AuthHandler.
type AuthHandlerOptions struct {
	// FrontendURL is where callbacks redirect to, as {FrontendURL}/login?...
	FrontendURL  string
	CookieName   string
	CookieSecure bool
	// Limiter bounds login initiations. Nil means unlimited.
	Limiter *rate.Limiter
	Metrics *Metrics
	Logger  *slog.Logger
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService AuthService
	verifier    *auth.TokenVerifier
	opts        AuthHandlerOptions
	log         *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService AuthService, verifier *auth.TokenVerifier, opts AuthHandlerOptions) *AuthHandler {
	opts.FrontendURL = strings.TrimRight(opts.FrontendURL, "/")
	if opts.CookieName == "" {
		opts.CookieName = "authbridge_session"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{
		authService: authService,
		verifier:    verifier,
		opts:        opts,
		log:         log,
	}
}

// RegisterRoutes registers auth routes
func (h *AuthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodGet)
	r.HandleFunc("/auth/callback", h.callback).Methods(http.MethodGet)
	r.HandleFunc("/auth/verify", h.verify).Methods(http.MethodGet, http.MethodPost)

	// /auth/me must run under RequireAuth so the principal is in the request context.
	r.Handle("/auth/me", h.verifier.RequireAuth()(http.HandlerFunc(h.me))).Methods(http.MethodGet)
	// Logout also accepts a cookie session, so the bearer token is optional.
	r.Handle("/auth/logout", h.verifier.OptionalAuth()(http.HandlerFunc(h.logout))).Methods(http.MethodPost)
}

// login returns the provider authorization URL; the client performs the redirect.
func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	if h.opts.Limiter != nil && !h.opts.Limiter.Allow() {
		h.opts.Metrics.observeLogin("rate_limited")
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error:   "rate_limited",
			Message: "too many login attempts",
		})
		return
	}

	q := r.URL.Query()
	resp, err := h.authService.Login(r.Context(), &LoginRequest{
		LoginHint: q.Get("login_hint"),
		ReturnTo:  q.Get("return_to"),
		SessionID: h.sessionID(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.log.Error("failed to initiate login", "error", err)
		h.opts.Metrics.observeLogin("error")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "server_error"})
		return
	}

	h.opts.Metrics.observeLogin("initiated")
	writeJSON(w, http.StatusOK, resp)
}

// callback always answers with a redirect to the frontend login page.
func (h *AuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := h.authService.Callback(r.Context(), &CallbackRequest{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})

	h.opts.Metrics.observeCallback(res.Outcome)

	params := url.Values{}
	if res.Token != "" {
		params.Set("token", res.Token)
		if res.ReturnTo != "" {
			params.Set("return_to", res.ReturnTo)
		}
		if res.SessionID != "" {
			h.setSessionCookie(w, res.SessionID, res.SessionExpiresAt)
		}
	} else {
		params.Set("error", res.Error)
		if res.ErrorDescription != "" {
			params.Set("error_description", res.ErrorDescription)
		}
	}

	// The token travels in the URL; keep it out of caches and Referer headers.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	http.Redirect(w, r, h.opts.FrontendURL+"/login?"+params.Encode(), http.StatusFound)
}

// me returns the current user
func (h *AuthHandler) me(w http.ResponseWriter, r *http.Request) {
	principal := auth.MustPrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, MeResponse{User: UserFromPrincipal(principal)})
}

// logout destroys the cookie session and returns the provider end-session URL.
func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	_, noPrincipal := auth.PrincipalFromContext(r.Context())
	sessionID := h.sessionID(r)

	resp, err := h.authService.Logout(r.Context(), &LogoutRequest{
		SessionID:     sessionID,
		Authenticated: noPrincipal == nil,
	})
	if sessionID != "" {
		h.clearSessionCookie(w)
	}
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: auth.ErrMissingToken.Error(),
		})
		return
	case err != nil:
		h.log.Error("logout failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "server_error"})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// verify checks a token from the Authorization header or, for POST, the JSON body.
func (h *AuthHandler) verify(w http.ResponseWriter, r *http.Request) {
	token := auth.ExtractBearerToken(r)
	if token == "" && r.Method == http.MethodPost {
		var req VerifyRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVerifyBody)).Decode(&req); err == nil {
			token = strings.TrimSpace(req.Token)
		}
	}

	resp, err := h.authService.Verify(r.Context(), token)
	if err != nil {
		// Never say whether signature or expiry failed.
		message := auth.ErrInvalidToken.Error()
		outcome := "invalid"
		if errors.Is(err, auth.ErrMissingToken) {
			message = auth.ErrMissingToken.Error()
			outcome = "missing"
		}
		h.opts.Metrics.ObserveVerify(outcome)
		writeJSON(w, auth.StatusFor(err), ErrorResponse{Error: "unauthorized", Message: message})
		return
	}

	h.opts.Metrics.ObserveVerify("ok")
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) sessionID(r *http.Request) string {
	c, err := r.Cookie(h.opts.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, id string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
