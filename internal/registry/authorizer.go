package registry

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Authorizer attaches credentials to every registry request.
type Authorizer interface {
	Authorize(req *http.Request) error
}

// BearerToken sends a static "Authorization: Bearer" header.
type BearerToken string

// Authorize implements Authorizer.
func (t BearerToken) Authorize(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+string(t))
	return nil
}

// BasicAuth sends HTTP basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Authorize implements Authorizer.
func (b BasicAuth) Authorize(req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// JWTAuthorizer mints short-lived HS256 bearer tokens from a shared secret.
// A token is reused until it is within a tenth of its TTL of expiring.
type JWTAuthorizer struct {
	Secret   string
	Issuer   string
	Subject  string
	Audience string
	TTL      time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

// Authorize implements Authorizer.
func (j *JWTAuthorizer) Authorize(req *http.Request) error {
	token, err := j.Token()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Token returns a valid signed token, minting a new one if needed.
func (j *JWTAuthorizer) Token() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ttl := j.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	now := time.Now()
	if j.token != "" && now.Add(ttl/10).Before(j.expires) {
		return j.token, nil
	}

	claims := jwt.RegisteredClaims{
		Issuer:    j.Issuer,
		Subject:   j.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	if j.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(j.Secret))
	if err != nil {
		return "", fmt.Errorf("%w: signing registry token: %w", ErrConfig, err)
	}

	j.token = signed
	j.expires = now.Add(ttl)
	return signed, nil
}
