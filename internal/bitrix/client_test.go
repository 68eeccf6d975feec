package bitrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crmguard_backend/platform/apperr"
	"crmguard_backend/platform/logger"
)

type fakeBitrixConfig struct {
	url string
}

func (f *fakeBitrixConfig) GetBitrixWebhookURL() string            { return f.url }
func (f *fakeBitrixConfig) GetBitrixRequestTimeout() time.Duration { return 5 * time.Second }
func (f *fakeBitrixConfig) GetBitrixRequestsPerSecond() float64    { return 100 }
func (f *fakeBitrixConfig) GetCRMPortalURL() string                { return "https://portal.example.com" }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(&fakeBitrixConfig{url: server.URL}, logger.New("test"))
	return client, server
}

func TestNormalizeID(t *testing.T) {
	cases := []struct {
		name  string
		input interface{}
		want  string
		ok    bool
	}{
		{"plain string", "42", "42", true},
		{"padded string", " 007 ", "7", true},
		{"float from json", float64(123), "123", true},
		{"empty string", "", "", false},
		{"non numeric", "abc", "", false},
		{"negative", "-5", "", false},
		{"fractional", float64(1.5), "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NormalizeID(tc.input)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("NormalizeID(%v) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestGetCompanyEnrichesFromRequisites(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "crm.company.get"):
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"ID":    123,
					"TITLE": "Acme LLC",
					"PHONE": []map[string]string{{"VALUE": "+7900", "VALUE_TYPE": "WORK"}},
				},
			})
		case strings.Contains(r.URL.Path, "crm.requisite.list"):
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": []map[string]interface{}{
					{"ID": "55", "ENTITY_ID": "123", "RQ_INN": "7701234567"},
				},
			})
		case strings.Contains(r.URL.Path, "crm.deal.list"):
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": []map[string]interface{}{
					{"ID": "900", "TITLE": "Big deal", "COMPANY_ID": 123},
				},
			})
		default:
			t.Errorf("unexpected method call: %s", r.URL.Path)
		}
	})

	company, err := client.GetCompany(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetCompany failed: %v", err)
	}

	if company.ID != "123" {
		t.Errorf("expected canonical ID 123, got %q", company.ID)
	}
	if company.INN != "7701234567" {
		t.Errorf("expected INN from requisites, got %q", company.INN)
	}
	if len(company.Requisites) != 1 || company.Requisites[0].ID != "55" {
		t.Errorf("unexpected requisites: %+v", company.Requisites)
	}
	if len(company.Deals) != 1 || company.Deals[0].CompanyID != "123" {
		t.Errorf("unexpected deals: %+v", company.Deals)
	}
	if len(company.Phones) != 1 || company.Phones[0].Value != "+7900" {
		t.Errorf("unexpected phones: %+v", company.Phones)
	}
}

func TestGetCompanyNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"error":             "ERROR_NOT_FOUND",
			"error_description": "Not found",
		})
	})

	_, err := client.GetCompany(context.Background(), "999")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCompanyExists(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["id"] == "1" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{"ID": "1"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"error": "ERROR_NOT_FOUND"})
	})

	exists, err := client.CompanyExists(context.Background(), "1")
	if err != nil || !exists {
		t.Fatalf("expected company 1 to exist, got (%v, %v)", exists, err)
	}

	exists, err = client.CompanyExists(context.Background(), "2")
	if err != nil || exists {
		t.Fatalf("expected company 2 to be gone, got (%v, %v)", exists, err)
	}
}

func TestFindCompanyIDsByINNDeduplicates(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []map[string]interface{}{
				{"ID": "1", "ENTITY_ID": "100", "RQ_INN": "7701234567"},
				{"ID": "2", "ENTITY_ID": 100, "RQ_INN": "7701234567"},
				{"ID": "3", "ENTITY_ID": "200", "RQ_INN": "7701234567"},
			},
		})
	})

	ids, err := client.FindCompanyIDsByINN(context.Background(), "7701234567")
	if err != nil {
		t.Fatalf("FindCompanyIDsByINN failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "100" || ids[1] != "200" {
		t.Fatalf("expected deduplicated IDs [100 200], got %v", ids)
	}
}

func TestListAllFollowsPagination(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)

		start, _ := body["start"].(float64)
		if start == 0 {
			next := 50
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": []map[string]interface{}{{"ID": "1", "ENTITY_ID": "100", "RQ_INN": "7701234567"}},
				"next":   next,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []map[string]interface{}{{"ID": "2", "ENTITY_ID": "200", "RQ_INN": "7701234567"}},
		})
	})

	ids, err := client.FindCompanyIDsByINN(context.Background(), "7701234567")
	if err != nil {
		t.Fatalf("FindCompanyIDsByINN failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 page fetches, got %d", calls)
	}
	if len(ids) != 2 || ids[0] != "100" || ids[1] != "200" {
		t.Fatalf("unexpected IDs: %v", ids)
	}
}

func TestCallRetriesTransientFailures(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"ID": "1"},
		})
	})

	exists, err := client.CompanyExists(context.Background(), "1")
	if err != nil || !exists {
		t.Fatalf("expected retry to succeed, got (%v, %v)", exists, err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}
