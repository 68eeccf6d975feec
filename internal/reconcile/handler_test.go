package reconcile

import (
	"net/http/httptest"
	"strings"
	"testing"

	"crmguard_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestOperatorMetaCarriesOperatorID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/api/v1/reconcile/restore", nil)
	c.Request.Header.Set("User-Agent", "dashboard/1.0")

	operatorID := uuid.New()
	c.Set(httpkit.ContextUserIDKey, operatorID)

	meta := operatorMeta(c)
	if meta.Method != "POST" {
		t.Errorf("expected POST method, got %q", meta.Method)
	}
	if !strings.Contains(meta.Source.String(), "Operator: "+operatorID.String()) {
		t.Errorf("audit source must name the operator, got %q", meta.Source.String())
	}
}

func TestOperatorMetaWithoutAuthenticatedUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/api/v1/webhook/company-check", nil)

	meta := operatorMeta(c)
	if strings.Contains(meta.Source.String(), "Operator:") {
		t.Errorf("unauthenticated request must not record an operator, got %q", meta.Source.String())
	}
}
