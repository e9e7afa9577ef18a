package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kioskflow/api/internal/platform/config"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew    = 5 * time.Minute
	defaultNonceTTL     = 5 * time.Minute
	maxSignedBodyLength = 1 << 20
)

// ErrSecretNotFound is returned when no signing secret exists for a provider.
var ErrSecretNotFound = errors.New("auth: signing secret not found")

// SecretProvider resolves the shared secret a provider signs its callbacks with.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// StaticSecrets serves secrets resolved at start-up, keyed by provider name.
type StaticSecrets map[string]string

// GetSecret implements SecretProvider.
func (s StaticSecrets) GetSecret(_ context.Context, name string) (string, error) {
	secret := strings.TrimSpace(s[strings.ToLower(strings.TrimSpace(name))])
	if secret == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return secret, nil
}

// NonceStore tracks unique nonces for replay prevention.
type NonceStore interface {
	// UseNonce stores the nonce within scope until expiry. It returns false when the nonce is
	// already present.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore is a process-local nonce registry.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{now: time.Now, nonces: make(map[string]time.Time)}
}

// UseNonce implements NonceStore.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	now := s.now()
	if !expiry.After(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, key)
		}
	}
	key := scope + "\x00" + nonce
	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// HMACValidator verifies signed payment provider callbacks.
type HMACValidator struct {
	secrets SecretProvider
	nonces  NonceStore
	logger  *zap.Logger
	metrics MetricsRecorder
	now     func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string
	clockSkew       time.Duration
	nonceTTL        time.Duration
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger *zap.Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACMetrics sets the metrics recorder.
func WithHMACMetrics(metrics MetricsRecorder) HMACOption {
	return func(v *HMACValidator) { v.metrics = metrics }
}

// WithHMACClock injects a custom clock.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACSettings applies header names and time windows from configuration. Empty or
// non-positive values keep the defaults.
func WithHMACSettings(cfg config.HMACConfig) HMACOption {
	return func(v *HMACValidator) {
		if cfg.SignatureHeader != "" {
			v.signatureHeader = cfg.SignatureHeader
		}
		if cfg.TimestampHeader != "" {
			v.timestampHeader = cfg.TimestampHeader
		}
		if cfg.NonceHeader != "" {
			v.nonceHeader = cfg.NonceHeader
		}
		if cfg.ClockSkew > 0 {
			v.clockSkew = cfg.ClockSkew
		}
		if cfg.NonceTTL > 0 {
			v.nonceTTL = cfg.NonceTTL
		}
	}
}

// NewHMACValidator builds a validator using the given secret provider and nonce store.
func NewHMACValidator(secrets SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		secrets:         secrets,
		nonces:          nonces,
		logger:          zap.NewNop(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// HMACMetadata describes a verified signature for downstream handlers.
type HMACMetadata struct {
	Provider  string
	Timestamp time.Time
	Nonce     string
}

type hmacContextKey struct{}

// HMACMetadataFromContext retrieves metadata stored by the middleware.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	return meta, ok && meta != nil
}

// RequireSignature verifies the request against the secret of the provider chosen by resolve,
// typically a path parameter. Unknown providers are rejected before the body is read.
func (v *HMACValidator) RequireSignature(resolve func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			var provider string
			if resolve != nil {
				provider = strings.ToLower(strings.TrimSpace(resolve(r)))
			}
			if provider == "" {
				v.fail(ctx, w, start, http.StatusUnauthorized, "unknown_provider", "webhook provider not recognised")
				return
			}
			if v.secrets == nil {
				v.fail(ctx, w, start, http.StatusServiceUnavailable, "verification_unavailable", "hmac secrets not configured")
				return
			}
			secret, err := v.secrets.GetSecret(ctx, provider)
			if err != nil {
				if errors.Is(err, ErrSecretNotFound) {
					v.fail(ctx, w, start, http.StatusUnauthorized, "unknown_provider", "webhook provider not recognised")
					return
				}
				v.logger.Warn("hmac secret lookup failed", zap.String("provider", provider), zap.Error(err))
				v.fail(ctx, w, start, http.StatusServiceUnavailable, "verification_unavailable", "hmac secret unavailable")
				return
			}

			signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
			timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
			nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
			switch {
			case signatureValue == "":
				v.fail(ctx, w, start, http.StatusUnauthorized, "signature_missing", "signature header missing")
				return
			case timestampValue == "":
				v.fail(ctx, w, start, http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing")
				return
			case nonce == "":
				v.fail(ctx, w, start, http.StatusUnauthorized, "nonce_missing", "signature nonce missing")
				return
			}

			timestamp, err := parseSignatureTimestamp(timestampValue)
			if err != nil {
				v.fail(ctx, w, start, http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid")
				return
			}
			if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
				v.fail(ctx, w, start, http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
				return
			}

			body, err := readAndRestoreBody(r)
			if err != nil {
				v.fail(ctx, w, start, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
				return
			}
			signature, err := decodeSignature(signatureValue)
			if err != nil {
				v.fail(ctx, w, start, http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
				return
			}
			expected := Sign([]byte(secret), r.Method, r.URL.EscapedPath(), timestampValue, nonce, body)
			if !hmac.Equal(signature, expected) {
				v.fail(ctx, w, start, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
				return
			}

			if v.nonces == nil {
				v.fail(ctx, w, start, http.StatusServiceUnavailable, "verification_unavailable", "nonce store unavailable")
				return
			}
			expiry := timestamp.Add(v.nonceTTL)
			if now := v.now(); expiry.Before(now) {
				expiry = now.Add(v.nonceTTL)
			}
			stored, err := v.nonces.UseNonce(ctx, provider, nonce, expiry)
			if err != nil {
				v.logger.Warn("hmac nonce store failed", zap.String("provider", provider), zap.Error(err))
				v.fail(ctx, w, start, http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
				return
			}
			if !stored {
				v.fail(ctx, w, start, http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce")
				return
			}

			v.record(ctx, true, "ok", start)
			meta := &HMACMetadata{Provider: provider, Timestamp: timestamp, Nonce: nonce}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, hmacContextKey{}, meta)))
		})
	}
}

func (v *HMACValidator) fail(ctx context.Context, w http.ResponseWriter, start time.Time, status int, reason, message string) {
	v.record(ctx, false, reason, start)
	respondAuthError(w, status, reason, message)
}

func (v *HMACValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "hmac", success, reason, v.now().Sub(start))
}

// Sign computes the signature a provider must send for a request. The signed message is the
// method, escaped path, timestamp, nonce and hex SHA-256 of the body joined by newlines.
func Sign(secret []byte, method, path, timestamp, nonce string, body []byte) []byte {
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(body)
	message := strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(digest[:]),
	}, "\n")
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(message))
	return mac.Sum(nil)
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyLength+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxSignedBodyLength {
		return nil, errors.New("auth: signed body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	value = strings.TrimPrefix(value, "sha256=")
	if decoded, err := hex.DecodeString(value); err == nil && len(decoded) == sha256.Size {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be hex or base64 encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}
