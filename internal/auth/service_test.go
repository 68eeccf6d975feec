package auth

import (
	"context"
	"testing"
	"time"

	"crmguard_backend/platform/apperr"
	"crmguard_backend/platform/logger"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type fakeAuthConfig struct {
	secret   string
	username string
	hash     string
}

func (f *fakeAuthConfig) GetJWTAccessSecret() string       { return f.secret }
func (f *fakeAuthConfig) GetAccessTokenTTL() time.Duration { return time.Hour }
func (f *fakeAuthConfig) GetAdminUsername() string         { return f.username }
func (f *fakeAuthConfig) GetAdminPasswordHash() string     { return f.hash }

func newTestService(t *testing.T, password string) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("generate hash: %v", err)
	}
	cfg := &fakeAuthConfig{secret: "test-secret", username: "operator", hash: string(hash)}
	return NewService(cfg, bcrypt.CompareHashAndPassword, logger.New("test"))
}

func TestLoginIssuesAccessToken(t *testing.T) {
	service := newTestService(t, "correct horse")

	result, err := service.Login(context.Background(), "operator", "correct horse")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.ExpiresIn != 3600 {
		t.Errorf("expected 3600s expiry, got %d", result.ExpiresIn)
	}

	parsed, err := jwt.Parse(result.Token, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token does not verify: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["type"] != "access" {
		t.Errorf("expected access token type, got %v", claims["type"])
	}
	if sub, _ := claims["sub"].(string); sub == "" {
		t.Error("token must carry a subject")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	service := newTestService(t, "correct horse")

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "operator", "battery staple"},
		{"wrong username", "admin", "correct horse"},
		{"both wrong", "admin", "battery staple"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.Login(context.Background(), tc.username, tc.password)
			if !apperr.Is(err, apperr.KindUnauthorized) {
				t.Fatalf("expected unauthorized, got %v", err)
			}
		})
	}
}
