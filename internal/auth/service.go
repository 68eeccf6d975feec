// Package auth provides operator authentication: a single configured admin
// account checked with bcrypt, issuing short-lived JWT access tokens for the
// reconciliation dashboard.
package auth

import (
	"context"
	"crypto/subtle"
	"time"

	"crmguard_backend/platform/apperr"
	"crmguard_backend/platform/config"
	"crmguard_backend/platform/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const errInvalidCredentials = "invalid username or password"

// PasswordChecker abstracts the password hash comparison for tests.
type PasswordChecker func(hashedPassword, password []byte) error

// Service authenticates operators and issues access tokens.
type Service struct {
	cfg           config.AuthServiceConfig
	checkPassword PasswordChecker
	log           *logger.Logger
}

// NewService creates the auth service.
func NewService(cfg config.AuthServiceConfig, checkPassword PasswordChecker, log *logger.Logger) *Service {
	return &Service{cfg: cfg, checkPassword: checkPassword, log: log}
}

// TokenResult is a successfully issued access token.
type TokenResult struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// Login verifies the operator credentials and issues an access token.
// Username comparison is constant time; the password check runs even for an
// unknown username so both failure modes take similar time.
func (s *Service) Login(ctx context.Context, username, password string) (*TokenResult, error) {
	const op = "auth.Login"

	usernameOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.GetAdminUsername())) == 1
	passwordErr := s.checkPassword([]byte(s.cfg.GetAdminPasswordHash()), []byte(password))

	if !usernameOK || passwordErr != nil {
		s.log.AuthEvent("login", username, false, "bad credentials")
		return nil, apperr.Unauthorized(errInvalidCredentials).WithOp(op)
	}

	ttl := s.cfg.GetAccessTokenTTL()
	now := time.Now()

	// The operator account has no database identity; the subject is a
	// stable UUID derived from the username.
	subject := uuid.NewSHA1(uuid.NameSpaceURL, []byte("crmguard/operator/"+username))

	claims := jwt.MapClaims{
		"sub":  subject.String(),
		"type": "access",
		"jti":  uuid.NewString(),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.GetJWTAccessSecret()))
	if err != nil {
		return nil, apperr.Internal("could not sign access token").WithOp(op)
	}

	s.log.AuthEvent("login", username, true, "")
	return &TokenResult{Token: token, ExpiresIn: int64(ttl.Seconds())}, nil
}
