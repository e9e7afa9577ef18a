package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/kioskflow/api/internal/platform/requestctx"
)

const (
	defaultRoleClaim     = "role"
	defaultKioskClaim    = "kioskId"
	defaultVerifyTimeout = 5 * time.Second
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens into request identities.
type Authenticator struct {
	verifier TokenVerifier
	logger   *zap.Logger
	metrics  MetricsRecorder
	now      func() time.Time

	roleClaim  string
	kioskClaim string
	timeout    time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithKioskClaim overrides the custom claim that binds a device token to a kiosk.
func WithKioskClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.kioskClaim = claim
		}
	}
}

// WithVerificationTimeout bounds each token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger used for rejected tokens.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics sets the verification metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// NewAuthenticator constructs a Firebase Authenticator for middleware composition.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:   verifier,
		logger:     zap.NewNop(),
		now:        time.Now,
		roleClaim:  defaultRoleClaim,
		kioskClaim: defaultKioskClaim,
		timeout:    defaultVerifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth verifies the bearer token and admits identities holding one of the roles.
// Kiosk identities must carry a kiosk binding claim.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = normaliseRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := a.now()
			ctx := r.Context()

			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				a.record(ctx, false, "token_missing", start)
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a.verifier == nil {
				a.record(ctx, false, "verifier_unavailable", start)
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "authorization service unavailable")
				return
			}

			verifyCtx := ctx
			if a.timeout > 0 {
				var cancel context.CancelFunc
				verifyCtx, cancel = context.WithTimeout(ctx, a.timeout)
				defer cancel()
			}
			token, err := a.verifier.VerifyIDToken(verifyCtx, tokenStr)
			if err != nil {
				code, message := verificationFailure(err)
				a.logger.Debug("firebase token rejected", zap.String("reason", code), zap.Error(err))
				a.record(ctx, false, code, start)
				respondAuthError(w, http.StatusUnauthorized, code, message)
				return
			}

			identity := &Identity{
				UID:     token.UID,
				Email:   claimAsString(token.Claims, "email"),
				Roles:   rolesFromClaims(token.Claims, a.roleClaim),
				KioskID: claimAsString(token.Claims, a.kioskClaim),
				token:   token,
			}
			if len(identity.Roles) == 0 {
				a.record(ctx, false, "missing_role", start)
				respondAuthError(w, http.StatusForbidden, "missing_role", "no roles associated with identity")
				return
			}
			if len(allowed) > 0 && !hasAllowedRole(identity.Roles, allowed) {
				a.record(ctx, false, "insufficient_role", start)
				respondAuthError(w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			if identity.HasRole(RoleKiosk) && !identity.IsOperator() && identity.KioskID == "" {
				a.record(ctx, false, "kiosk_unbound", start)
				respondAuthError(w, http.StatusForbidden, "kiosk_unbound", "kiosk token is not bound to a kiosk")
				return
			}

			a.record(ctx, true, "ok", start)
			fields := []zap.Field{zap.String("uid", identity.UID)}
			if identity.KioskID != "" {
				fields = append(fields, zap.String("kiosk_id", identity.KioskID))
			}
			ctx = requestctx.WithFields(WithIdentity(ctx, identity), fields...)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.RecordVerification(ctx, "firebase", success, reason, a.now().Sub(start))
}

func verificationFailure(err error) (string, string) {
	switch {
	case firebaseauth.IsIDTokenExpired(err):
		return "token_expired", "firebase id token expired"
	case firebaseauth.IsIDTokenRevoked(err):
		return "token_revoked", "firebase id token revoked"
	case errors.Is(err, context.DeadlineExceeded):
		return "verification_timeout", "firebase id token verification timed out"
	default:
		return "invalid_token", "firebase id token invalid"
	}
}

func hasAllowedRole(roles []string, allowed map[string]struct{}) bool {
	for _, role := range roles {
		if _, ok := allowed[role]; ok {
			return true
		}
	}
	return false
}

// rolesFromClaims accepts a single role string, a list of roles, or a map of role flags.
func rolesFromClaims(claims map[string]any, key string) []string {
	var candidates []string
	switch v := claims[key].(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for name, flag := range v {
			if enabled, ok := flag.(bool); ok && enabled {
				candidates = append(candidates, name)
			}
		}
	}

	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		role := normaliseRole(candidate)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimAsString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}
