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
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/riverrun-io/caseflow/internal/config"
	"github.com/riverrun-io/caseflow/model"
)

const maxJWKSBytes = 1 << 20

// jwk is a single entry of a JWKS document. Only the fields needed to
// rebuild RSA and EC public keys are decoded.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// publicKey rebuilds the verification key described by the entry.
func (k jwk) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		n, err := b64Int(k.N)
		if err != nil {
			return nil, fmt.Errorf("modulus: %w", err)
		}
		e, err := b64Int(k.E)
		if err != nil {
			return nil, fmt.Errorf("exponent: %w", err)
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := b64Int(k.X)
		if err != nil {
			return nil, fmt.Errorf("x coordinate: %w", err)
		}
		y, err := b64Int(k.Y)
		if err != nil {
			return nil, fmt.Errorf("y coordinate: %w", err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

func b64Int(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// KeyCache holds the identity provider's verification keys, refreshed from
// its JWKS endpoint. Lookups within the TTL are served from memory; a stale
// cache is served when the endpoint is unreachable so that token
// verification survives identity-provider outages as long as keys have not
// actually rotated.
type KeyCache struct {
	url          string
	ttl          time.Duration
	refreshFloor time.Duration
	client       *http.Client
	logger       *zap.Logger

	mu        sync.Mutex
	keys      map[string]crypto.PublicKey
	fetchedAt time.Time
}

// NewKeyCache creates a KeyCache for the given JWKS URL.
func NewKeyCache(url string, ttl time.Duration, logger *zap.Logger) *KeyCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyCache{
		url: url,
		ttl: ttl,
		// A flood of tokens with unknown kids must not turn into a flood
		// of JWKS fetches.
		refreshFloor: 5 * time.Minute,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
}

// Lookup returns the verification key with the given kid, fetching the JWKS
// document when the cache is cold, expired, or missing the kid. The mutex
// is held across the fetch, so concurrent lookups trigger at most one.
func (c *KeyCache) Lookup(kid string) (crypto.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.keys[kid]; ok && time.Since(c.fetchedAt) < c.ttl {
		return key, nil
	}

	if len(c.keys) == 0 || time.Since(c.fetchedAt) >= c.refreshFloor {
		fresh, err := c.fetch()
		if err != nil {
			if key, ok := c.keys[kid]; ok {
				c.logger.Warn("jwks refresh failed, serving cached key",
					zap.String("kid", kid), zap.Error(err))
				return key, nil
			}
			return nil, fmt.Errorf("jwks fetch: %w", err)
		}
		c.keys = fresh
		c.fetchedAt = time.Now()
	}

	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no signing key with kid %q", kid)
	}
	return key, nil
}

func (c *KeyCache) fetch() (map[string]crypto.PublicKey, error) {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			c.logger.Warn("jwks: skipping unusable key",
				zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("document contains no usable keys")
	}
	return keys, nil
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// JWTAuthenticator returns middleware that verifies bearer tokens against
// the cached JWKS keys and stores the verified claims in the request
// context for BuildActorContext to consume.
func JWTAuthenticator(cfg config.IdentityConfig, keys *KeyCache) func(http.Handler) http.Handler {
	keyFor := func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		return keys.Lookup(kid)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithExpirationRequired(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				WriteError(w, model.NewUnauthorizedError("missing or malformed authorization header"))
				return
			}

			token, err := jwt.Parse(raw, keyFor, opts...)
			if err != nil || !token.Valid {
				WriteError(w, model.NewUnauthorizedError(authFailureMessage(err)))
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				WriteError(w, model.NewUnauthorizedError("invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), map[string]any(claims))))
		})
	}
}

// authFailureMessage maps jwt parse failures onto user-facing reasons
// without leaking verification internals.
func authFailureMessage(err error) string {
	switch {
	case err == nil:
		return "invalid token"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token not valid yet"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "invalid token audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid token signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "token signing key unavailable"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	default:
		return "invalid token"
	}
}
