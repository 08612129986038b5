package auth

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "test-secret-key-for-jwt-signing-32b"

func TestGenerateAndParseAccessToken(t *testing.T) {
	p := Principal{Subject: "operator-1", Role: RoleOperator}

	token, err := GenerateAccessToken(p, testSecret, "nmos-core", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateAccessToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret, "nmos-core")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Principal() != p {
		t.Errorf("Principal() = %+v, want %+v", claims.Principal(), p)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
}

func TestGenerateAccessToken_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		p       Principal
		wantErr error
	}{
		{"bad subject", Principal{Subject: "has space", Role: RoleAdmin}, ErrTokenInvalid},
		{"empty subject", Principal{Role: RoleAdmin}, ErrTokenInvalid},
		{"unknown role", Principal{Subject: "x", Role: "owner"}, ErrInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateAccessToken(tt.p, testSecret, "", 0)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseToken_Invalid(t *testing.T) {
	valid, err := GenerateAccessToken(Principal{Subject: "v", Role: RoleViewer}, testSecret, "nmos-core", 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name   string
		token  string
		secret string
		issuer string
	}{
		{"empty", "", testSecret, ""},
		{"garbage", "not-a-valid-jwt", testSecret, ""},
		{"malformed", "abc.def", testSecret, ""},
		{"wrong secret", valid, "another-secret-key-for-jwt-signing", ""},
		{"wrong issuer", valid, testSecret, "someone-else"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret, tt.issuer)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestGenerateAccessToken_DefaultTTL(t *testing.T) {
	token, err := GenerateAccessToken(Principal{Subject: "v", Role: RoleViewer}, testSecret, "", 0)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret, "")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	expectedExpiry := time.Now().Add(DefaultAccessTokenTTL)
	diff := claims.ExpiresAt.Time.Sub(expectedExpiry)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("default TTL should be ~15 minutes, got expiry diff of %v", diff)
	}
}
