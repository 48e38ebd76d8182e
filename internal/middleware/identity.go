package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jellydator/ttlcache/v3"

	"github.com/HammerMeetNail/bookbuddy/internal/handlers"
	"github.com/HammerMeetNail/bookbuddy/internal/logging"
)

var ErrInvalidCallerClaim = errors.New("token does not carry a valid user id")

// TokenVerifier turns a bearer token into a user id and the time it stops being valid.
type TokenVerifier interface {
	VerifyCaller(ctx context.Context, rawToken string) (int64, time.Time, error)
}

// OIDCVerifier checks ID tokens from the configured issuer and reads the user
// id from a numeric claim.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	claim    string
}

func NewOIDCVerifier(ctx context.Context, issuerURL, clientID, claim string) (*OIDCVerifier, error) {
	if strings.TrimSpace(issuerURL) == "" || strings.TrimSpace(clientID) == "" {
		return nil, errors.New("issuer url and client id are required")
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering oidc provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		claim:    claim,
	}, nil
}

func (v *OIDCVerifier) VerifyCaller(ctx context.Context, rawToken string) (int64, time.Time, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("verifying id token: %w", err)
	}

	var claims map[string]interface{}
	if err := token.Claims(&claims); err != nil {
		return 0, time.Time{}, fmt.Errorf("parsing id token claims: %w", err)
	}

	id, err := callerFromClaim(claims[v.claim])
	if err != nil {
		return 0, time.Time{}, err
	}
	return id, token.Expiry, nil
}

// callerFromClaim accepts a positive integer as a JSON number or a decimal string.
func callerFromClaim(value interface{}) (int64, error) {
	switch v := value.(type) {
	case float64:
		if v <= 0 || v != math.Trunc(v) || v > math.MaxInt64 {
			return 0, ErrInvalidCallerClaim
		}
		return int64(v), nil
	case json.Number:
		return parseCallerID(v.String())
	case string:
		return parseCallerID(v)
	default:
		return 0, ErrInvalidCallerClaim
	}
}

func parseCallerID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidCallerClaim
	}
	return id, nil
}

// Identity resolves the caller for each request. Requests without credentials
// pass through anonymously; handlers decide whether a caller is required.
type Identity struct {
	verifier    TokenVerifier
	cache       *ttlcache.Cache[string, int64]
	cacheTTL    time.Duration
	trustHeader bool
	now         func() time.Time
}

const UserIDHeader = "X-User-ID"

func NewIdentity(verifier TokenVerifier, cacheTTL time.Duration, trustHeader bool) *Identity {
	return &Identity{
		verifier: verifier,
		cache: ttlcache.New[string, int64](
			ttlcache.WithTTL[string, int64](cacheTTL),
			ttlcache.WithDisableTouchOnHit[string, int64](),
		),
		cacheTTL:    cacheTTL,
		trustHeader: trustHeader,
		now:         time.Now,
	}
}

// Start evicts expired tokens in the background until Stop is called.
func (i *Identity) Start() {
	go i.cache.Start()
}

func (i *Identity) Stop() {
	i.cache.Stop()
}

func (i *Identity) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw, ok := bearerToken(r); ok {
			if i.verifier == nil {
				writeError(w, http.StatusUnauthorized, "Token authentication is not configured")
				return
			}
			callerID, err := i.resolveToken(r.Context(), raw)
			if err != nil {
				logging.Debug("Rejected bearer token", map[string]interface{}{"error": err.Error()})
				writeError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(handlers.SetCallerInContext(r.Context(), callerID)))
			return
		}

		if i.trustHeader {
			if header := r.Header.Get(UserIDHeader); header != "" {
				callerID, err := parseCallerID(header)
				if err != nil {
					writeError(w, http.StatusUnauthorized, "Invalid "+UserIDHeader+" header")
					return
				}
				next.ServeHTTP(w, r.WithContext(handlers.SetCallerInContext(r.Context(), callerID)))
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// resolveToken caches verified tokens by hash, never past the token's own expiry.
func (i *Identity) resolveToken(ctx context.Context, raw string) (int64, error) {
	sum := sha256.Sum256([]byte(raw))
	key := hex.EncodeToString(sum[:])

	if item := i.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	callerID, expiry, err := i.verifier.VerifyCaller(ctx, raw)
	if err != nil {
		return 0, err
	}

	ttl := i.cacheTTL
	if !expiry.IsZero() {
		if untilExpiry := expiry.Sub(i.now()); untilExpiry < ttl {
			ttl = untilExpiry
		}
	}
	if ttl > 0 {
		i.cache.Set(key, callerID, ttl)
	}
	return callerID, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
