package biz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"authbridge/internal/auth"
)

// AuthURLBuilder builds the provider authorization URL.
type AuthURLBuilder interface {
	AuthCodeURL(state, codeVerifier, loginHint string) string
}

// CodeExchanger redeems an authorization code at the provider token endpoint.
type CodeExchanger interface {
	Exchange(ctx context.Context, code, codeVerifier string) (*auth.ExchangeResult, error)
}

// TokenMinter mints application tokens.
type TokenMinter interface {
	Mint(id auth.IdentityClaims) (*auth.AppToken, error)
}

// Phase is a step of the callback state machine.
type Phase string

const (
	PhaseAwaitingCode    Phase = "awaiting_code"
	PhaseValidatingState Phase = "validating_state"
	PhaseExchangingCode  Phase = "exchanging_code"
	PhaseMinting         Phase = "minting"
	PhaseRedirecting     Phase = "redirecting"
	PhaseFailed          Phase = "failed"
)

// LoginOptions tunes LoginUsecase. State expiry belongs to the StateStore.
type LoginOptions struct {
	// UsePKCE adds an S256 code challenge to every authorization request.
	UsePKCE bool
	// UnsafeSkipStateCheck lets a callback with an unknown state proceed.
	// Debug only: it disables CSRF protection.
	UnsafeSkipStateCheck bool
	// Observe, if set, is called once per finished callback.
	Observe func(res *LoginResult)
	Now     func() time.Time
}

// LoginUsecase drives the authorization code flow.
type LoginUsecase struct {
	states    StateStore
	authURL   AuthURLBuilder
	exchanger CodeExchanger
	minter    TokenMinter
	sessions  *SessionBridge
	opts      LoginOptions
	log       *slog.Logger
}

// NewLoginUsecase creates a LoginUsecase. sessions may be nil.
func NewLoginUsecase(
	states StateStore,
	authURL AuthURLBuilder,
	exchanger CodeExchanger,
	minter TokenMinter,
	sessions *SessionBridge,
	opts LoginOptions,
	log *slog.Logger,
) *LoginUsecase {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.UnsafeSkipStateCheck {
		log.Warn("UNSAFE: CSRF state validation is disabled; callbacks with unknown state will proceed")
	}
	return &LoginUsecase{
		states:    states,
		authURL:   authURL,
		exchanger: exchanger,
		minter:    minter,
		sessions:  sessions,
		opts:      opts,
		log:       log,
	}
}

// InitiateRequest describes a new login attempt.
type InitiateRequest struct {
	SessionHint string
	UserAgent   string
	LoginHint   string
	ReturnTo    string
}

// InitiateResult is the provider URL the client must visit.
type InitiateResult struct {
	AuthURL string
	State   string
}

// Initiate registers a fresh state and returns the provider authorization URL.
func (uc *LoginUsecase) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	now := uc.opts.Now()

	// Opportunistic sweep bounds memory under bursts of abandoned logins.
	if n, err := uc.states.Sweep(ctx, now); err != nil {
		uc.log.Warn("state sweep failed", "error", err)
	} else if n > 0 {
		uc.log.Debug("swept expired states", "count", n)
	}

	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	record := &AuthorizationState{
		State:       state,
		CreatedAt:   now,
		SessionHint: req.SessionHint,
		UserAgent:   req.UserAgent,
		ReturnTo:    SanitizeReturnTo(req.ReturnTo),
	}
	if uc.opts.UsePKCE {
		if record.CodeVerifier, err = auth.GenerateCodeVerifier(); err != nil {
			return nil, err
		}
	}

	if err := uc.states.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("store state: %w", err)
	}

	return &InitiateResult{
		AuthURL: uc.authURL.AuthCodeURL(state, record.CodeVerifier, req.LoginHint),
		State:   state,
	}, nil
}

// CallbackParams is what the provider sent to the redirect URI.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// LoginResult is the terminal outcome of one callback.
type LoginResult struct {
	// Phase is PhaseRedirecting on success and PhaseFailed otherwise.
	Phase Phase
	// Trace lists every phase entered, in order.
	Trace  []Phase
	Reason FailureReason
	Err    error

	// ProviderError and ProviderErrorDescription are sanitized copies of
	// what the provider reported, set only for ReasonProviderError.
	ProviderError            string
	ProviderErrorDescription string

	Token    *auth.AppToken
	Session  *Session
	ReturnTo string
}

// Succeeded reports whether a token was minted.
func (r *LoginResult) Succeeded() bool {
	return r.Phase == PhaseRedirecting && r.Token != nil
}

func (r *LoginResult) enter(p Phase) {
	r.Phase = p
	r.Trace = append(r.Trace, p)
}

func (r *LoginResult) fail(reason FailureReason, err error) *LoginResult {
	r.enter(PhaseFailed)
	r.Reason = reason
	r.Err = err
	r.Token = nil
	return r
}

// Complete runs the callback state machine. It never returns provider
// tokens, the authorization code or a raw cause to the caller; Err is for
// logging only.
func (uc *LoginUsecase) Complete(ctx context.Context, p CallbackParams) *LoginResult {
	res := uc.complete(ctx, p)
	if uc.opts.Observe != nil {
		uc.opts.Observe(res)
	}
	return res
}

func (uc *LoginUsecase) complete(ctx context.Context, p CallbackParams) *LoginResult {
	res := &LoginResult{}
	res.enter(PhaseAwaitingCode)

	// 1. Provider reported an error: touch neither state nor code.
	if p.Error != "" || p.ErrorDescription != "" {
		res.ProviderError = SanitizeProviderMessage(p.Error)
		if res.ProviderError == "" {
			res.ProviderError = string(ReasonProviderError)
		}
		res.ProviderErrorDescription = SanitizeProviderMessage(p.ErrorDescription)
		uc.log.Warn("identity provider returned an error",
			"error", res.ProviderError, "description", res.ProviderErrorDescription)
		return res.fail(ReasonProviderError, fmt.Errorf("%w: %s", ErrProvider, res.ProviderError))
	}

	// 2. Required parameters.
	if p.State == "" {
		uc.log.Warn("callback without state")
		return res.fail(ReasonMissingState, fmt.Errorf("%w: state parameter missing", ErrCSRFState))
	}
	if p.Code == "" {
		uc.log.Warn("callback without code")
		return res.fail(ReasonMissingCode, errors.New("authorization code missing"))
	}

	// 3. Single-use state. Consumed before the exchange so a slow provider
	// never holds the store.
	res.enter(PhaseValidatingState)
	record, err := uc.states.Consume(ctx, p.State)
	switch {
	case err == nil:
		res.ReturnTo = record.ReturnTo
	case errors.Is(err, ErrStateNotFound):
		if !uc.opts.UnsafeSkipStateCheck {
			uc.log.Warn("rejected callback with unknown, used or expired state")
			return res.fail(ReasonInvalidState, fmt.Errorf("%w: %w", ErrCSRFState, err))
		}
		uc.log.Warn("UNSAFE: proceeding past unknown state because unsafe_skip_state_check is set")
	default:
		uc.log.Error("state store failure", "error", err)
		return res.fail(ReasonServerError, err)
	}

	// 4. Exchange.
	res.enter(PhaseExchangingCode)
	var verifier string
	if record != nil {
		verifier = record.CodeVerifier
	}
	exchanged, err := uc.exchanger.Exchange(ctx, p.Code, verifier)
	if err != nil {
		uc.log.Error("authorization code exchange failed",
			"cause", auth.ClassifyExchangeError(err), "error", err)
		return res.fail(ReasonAuthenticationFailed, fmt.Errorf("%w: %w", ErrCodeExchange, err))
	}

	// 5. Mint.
	res.enter(PhaseMinting)
	identity, err := auth.MapIdentity(exchanged)
	if err != nil {
		uc.log.Error("provider identity rejected", "error", err)
		return res.fail(ReasonAuthenticationFailed, fmt.Errorf("%w: %w", ErrCodeExchange, err))
	}
	token, err := uc.minter.Mint(identity)
	if err != nil {
		uc.log.Error("failed to mint application token", "error", err)
		return res.fail(ReasonServerError, err)
	}
	res.Token = token

	if uc.sessions.Enabled() {
		// A login replaces whatever session the browser had before.
		if record != nil && record.SessionHint != "" {
			if err := uc.sessions.Destroy(ctx, record.SessionHint); err != nil {
				uc.log.Warn("failed to destroy previous session", "error", err)
			}
		}
		if sess, err := uc.sessions.Bind(ctx, identity, token); err != nil {
			// The bearer token alone is enough to proceed.
			uc.log.Warn("failed to bind session", "error", err)
		} else {
			res.Session = sess
		}
	}

	uc.log.Info("login completed", "identity", identity)
	res.enter(PhaseRedirecting)
	return res
}

// SanitizeProviderMessage keeps letters, digits, space and ".-_:" and caps
// the length, so provider text is safe to echo in a redirect.
func SanitizeProviderMessage(s string) string {
	const maxLen = 200
	var b strings.Builder
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '-' || r == '_' || r == ':':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// SanitizeReturnTo accepts only a local path, so the post-login redirect
// cannot leave the frontend origin.
func SanitizeReturnTo(s string) string {
	if s == "" || !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.Contains(s, `\`) {
		return ""
	}
	return s
}
