package transport

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/admindash/internal/config"
	"github.com/pitabwire/admindash/model"
)

// JWKSClient fetches and caches JSON Web Key Sets from an identity provider.
type JWKSClient struct {
	mu         sync.RWMutex
	url        string
	keys       map[string]crypto.PublicKey
	lastFetch  time.Time
	ttl        time.Duration
	minRefresh time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewJWKSClient creates a client that fetches keys from url and caches them
// for ttl.
func NewJWKSClient(url string, ttl time.Duration, logger *zap.Logger) *JWKSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKSClient{
		url:        url,
		keys:       make(map[string]crypto.PublicKey),
		ttl:        ttl,
		minRefresh: time.Minute,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// GetKey returns the public key for kid, fetching the set when the key is
// unknown or the cache has expired. A failed refresh falls back to a cached
// key.
func (c *JWKSClient) GetKey(kid string) (crypto.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	expired := time.Since(c.lastFetch) > c.ttl
	c.mu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := c.refresh(); err != nil {
		if ok {
			c.logger.Warn("jwks refresh failed, using cached key", zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("jwks: fetch failed: %w", err)
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("jwks: unknown signing key %q", kid)
	}
	return key, nil
}

// Keyfunc resolves a token's verification key by its kid header.
func (c *JWKSClient) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid in token header")
	}
	return c.GetKey(kid)
}

func (c *JWKSClient) refresh() error {
	c.mu.RLock()
	tooSoon := time.Since(c.lastFetch) < c.minRefresh && len(c.keys) > 0
	c.mu.RUnlock()
	if tooSoon {
		return nil
	}

	resp, err := c.httpClient.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: unexpected status %d", resp.StatusCode)
	}

	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return fmt.Errorf("jwks: parse error: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		kid, _ := jwk["kid"].(string)
		if kid == "" {
			continue
		}
		var (
			key crypto.PublicKey
			err error
		)
		switch jwk["kty"] {
		case "RSA":
			key, err = parseRSAKey(jwk)
		case "EC":
			key, err = parseECKey(jwk)
		default:
			continue
		}
		if err != nil {
			c.logger.Warn("jwks key skipped", zap.String("kid", kid), zap.Error(err))
			continue
		}
		keys[kid] = key
	}

	c.mu.Lock()
	c.keys = keys
	c.lastFetch = time.Now()
	c.mu.Unlock()
	c.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)))
	return nil
}

// jwkInt decodes a base64url JWK member into a big integer.
func jwkInt(jwk map[string]any, member string) (*big.Int, error) {
	s, _ := jwk[member].(string)
	if s == "" {
		return nil, fmt.Errorf("missing %s", member)
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", member, err)
	}
	return new(big.Int).SetBytes(b), nil
}

func parseRSAKey(jwk map[string]any) (*rsa.PublicKey, error) {
	n, err := jwkInt(jwk, "n")
	if err != nil {
		return nil, err
	}
	e, err := jwkInt(jwk, "e")
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

var curves = map[string]elliptic.Curve{
	"P-256": elliptic.P256(),
	"P-384": elliptic.P384(),
	"P-521": elliptic.P521(),
}

func parseECKey(jwk map[string]any) (*ecdsa.PublicKey, error) {
	crv, _ := jwk["crv"].(string)
	curve, ok := curves[crv]
	if !ok {
		return nil, fmt.Errorf("unsupported curve %q", crv)
	}
	x, err := jwkInt(jwk, "x")
	if err != nil {
		return nil, err
	}
	y, err := jwkInt(jwk, "y")
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// Verifier checks bearer tokens against the configured issuer, audience and
// key source.
type Verifier struct {
	keyfunc jwt.Keyfunc
	opts    []jwt.ParserOption
}

// NewVerifier builds a Verifier from cfg. A JWKS URL selects asymmetric keys;
// otherwise the HMAC secret is read from cfg.HMACSecretEnv. Algorithms that
// do not match the key source are ignored.
func NewVerifier(cfg config.IdentityConfig, logger *zap.Logger) (*Verifier, error) {
	var (
		keyfunc jwt.Keyfunc
		methods []string
	)
	switch {
	case cfg.JWKSURL != "":
		keyfunc = NewJWKSClient(cfg.JWKSURL, cfg.JWKSCacheTTL, logger).Keyfunc
		methods = filterAlgorithms(cfg.Algorithms, false, "RS256")
	case cfg.HMACSecretEnv != "":
		secret := os.Getenv(cfg.HMACSecretEnv)
		if secret == "" {
			return nil, fmt.Errorf("auth: %s is empty", cfg.HMACSecretEnv)
		}
		keyfunc = func(*jwt.Token) (any, error) { return []byte(secret), nil }
		methods = filterAlgorithms(cfg.Algorithms, true, "HS256")
	default:
		return nil, errors.New("auth: identity has no key source")
	}
	return &Verifier{
		keyfunc: keyfunc,
		opts: []jwt.ParserOption{
			jwt.WithValidMethods(methods),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(30 * time.Second),
			jwt.WithExpirationRequired(),
		},
	}, nil
}

// NewVerifierWithKeyfunc builds a Verifier around an explicit key lookup.
func NewVerifierWithKeyfunc(cfg config.IdentityConfig, keyfunc jwt.Keyfunc) *Verifier {
	return &Verifier{
		keyfunc: keyfunc,
		opts: []jwt.ParserOption{
			jwt.WithValidMethods(cfg.Algorithms),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithLeeway(30 * time.Second),
			jwt.WithExpirationRequired(),
		},
	}
}

// Verify parses tokenStr and returns its claims.
func (v *Verifier) Verify(tokenStr string) (map[string]any, error) {
	token, err := jwt.Parse(tokenStr, v.keyfunc, v.opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return map[string]any(claims), nil
}

func filterAlgorithms(algs []string, hmac bool, fallback string) []string {
	var out []string
	for _, a := range algs {
		if strings.HasPrefix(a, "HS") == hmac {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		out = []string{fallback}
	}
	return out
}

// BearerAuth returns middleware that verifies the Authorization bearer token
// and stores its claims and raw value in the request context.
func BearerAuth(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				WriteError(w, model.NewUnauthorizedError("Missing authorization header"))
				return
			}
			tokenStr, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || tokenStr == "" {
				WriteError(w, model.NewUnauthorizedError("Invalid authorization header format"))
				return
			}

			claims, err := v.Verify(tokenStr)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(classifyJWTError(err)))
				return
			}

			ctx := WithToken(WithClaims(r.Context(), claims), tokenStr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if strings.Contains(err.Error(), "signing method") {
			return "Disallowed signing algorithm"
		}
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "Unknown signing key"
	default:
		return "Invalid token"
	}
}
