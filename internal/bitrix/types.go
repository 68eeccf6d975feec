package bitrix

import (
	"encoding/json"
	"strconv"
	"strings"
)

// EntityTypeCompany is the requisite owner type identifier for companies.
const EntityTypeCompany = "4"

// MultiField is a single entry of a Bitrix24 multi-value field
// (phone, email, website, messenger).
type MultiField struct {
	Value     string `json:"VALUE"`
	ValueType string `json:"VALUE_TYPE,omitempty"`
}

// Company is a CRM company record. Fields carries the raw portal payload so
// that snapshots preserve custom fields the backend does not model explicitly.
type Company struct {
	ID     string
	Title  string
	INN    string
	Fields map[string]json.RawMessage

	Phones     []MultiField
	Emails     []MultiField
	Webs       []MultiField
	Messengers []MultiField

	Requisites []Requisite
	Deals      []Deal
}

// Requisite is a CRM requisite record attached to an owning entity.
type Requisite struct {
	ID       string
	EntityID string
	INN      string
	Fields   map[string]json.RawMessage
}

// Deal is a CRM deal record.
type Deal struct {
	ID        string
	Title     string
	CompanyID string
	Fields    map[string]json.RawMessage
}

// ProductRow is a product line in the shape the item API accepts.
type ProductRow struct {
	ProductID   int64   `json:"productId,omitempty"`
	ProductName string  `json:"productName,omitempty"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
}

// DealProduct is a product line read from a deal, with derived totals and
// the product/service discriminator (TYPE 4 marks services).
type DealProduct struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Quantity    float64 `json:"quantity"`
	Price       float64 `json:"price"`
	Total       float64 `json:"total"`
	Measure     string  `json:"measure"`
	MeasureCode int     `json:"measureCode"`
	Type        int     `json:"type"`
	IsService   bool    `json:"isService"`
}

// NormalizeID converts a raw identifier from the portal into its canonical
// decimal string form. The portal is inconsistent about numeric types: list
// endpoints return strings, get endpoints return numbers, and webhook
// payloads may carry either. All IDs cross the client boundary as strings.
func NormalizeID(raw interface{}) (string, bool) {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", false
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return "", false
		}
		return strconv.FormatInt(int64(v), 10), true
	case int:
		if v < 0 {
			return "", false
		}
		return strconv.Itoa(v), true
	case int64:
		if v < 0 {
			return "", false
		}
		return strconv.FormatInt(v, 10), true
	case json.Number:
		return NormalizeID(string(v))
	default:
		return "", false
	}
}

// normalizeRawID decodes a raw JSON value and normalizes it as an ID.
func normalizeRawID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return NormalizeID(v)
}

// decodeString decodes a raw JSON value as a plain string, tolerating numbers.
func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// StringField returns a scalar field decoded as a string, or "" when the
// field is absent or not scalar.
func (c *Company) StringField(key string) string {
	return decodeString(c.Fields[key])
}

// decodeFloat decodes a raw JSON value as a float, tolerating string
// encodings. Absent or malformed values decode as zero.
func decodeFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return parsed
		}
	}
	return 0
}
