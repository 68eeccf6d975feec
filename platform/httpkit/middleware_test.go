package httpkit

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestSourceInfoString(t *testing.T) {
	s := SourceInfo{IP: "203.0.113.7", UserAgent: "curl/8.5"}
	if got := s.String(); got != "IP: 203.0.113.7 | UA: curl/8.5" {
		t.Fatalf("unexpected rendering: %q", got)
	}

	s.Operator = "8f2d6a1e-0000-0000-0000-000000000001"
	if got := s.String(); !strings.HasSuffix(got, "| Operator: "+s.Operator) {
		t.Fatalf("operator must be appended, got %q", got)
	}

	s.UserAgent = strings.Repeat("x", 150)
	if got := s.String(); strings.Contains(got, strings.Repeat("x", 101)) {
		t.Errorf("user agent must be truncated at 100 chars, got %q", got)
	}
}

func TestUserIDFromContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if _, ok := UserID(c); ok {
		t.Fatal("unauthenticated context must not yield a user ID")
	}

	id := uuid.New()
	c.Set(ContextUserIDKey, id)

	got, ok := UserID(c)
	if !ok || got != id {
		t.Fatalf("expected (%v, true), got (%v, %v)", id, got, ok)
	}
}
