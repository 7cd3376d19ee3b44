package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fetchCSRFToken returns a token issued by the csrf-token endpoint.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response: %v", err)
	}
	if strings.TrimSpace(payload["csrf_token"]) == "" {
		t.Fatalf("empty csrf_token")
	}
	return payload["csrf_token"]
}

func loginFrom(api *API, remoteAddr string, username string, password string) int {
	body := strings.NewReader(`{"username":"` + username + `","password":"` + password + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res.Code
}

func TestOrderResponsesCarryBrowserHardening(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	res := send(t, api, http.MethodPost, "/api/v1/orders/preview", token, kikomandoOrder("idem-headers"), nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}

	want := map[string]string{
		"X-Content-Type-Options":     "nosniff",
		"X-Frame-Options":            "DENY",
		"Referrer-Policy":            "strict-origin-when-cross-origin",
		"Cross-Origin-Opener-Policy": "same-origin",
	}
	for header, value := range want {
		if got := res.Header().Get(header); got != value {
			t.Errorf("%s: want %q, got %q", header, value, got)
		}
	}
	if !strings.Contains(res.Header().Get("Access-Control-Allow-Headers"), "X-Manager-PIN") {
		t.Errorf("manager pin header not allowed cross-origin")
	}
}

func TestCashierLoginThrottledPerTerminal(t *testing.T) {
	api := newTestAPI(t)

	for attempt := 1; attempt <= 5; attempt++ {
		if code := loginFrom(api, "10.0.0.7:4100", "cashier", "guess"); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", attempt, code)
		}
	}
	if code := loginFrom(api, "10.0.0.7:4101", "cashier", "cashier123"); code != http.StatusTooManyRequests {
		t.Fatalf("expected terminal locked out even with the right password, got %d", code)
	}
	if code := loginFrom(api, "10.0.0.8:4100", "cashier", "cashier123"); code != http.StatusOK {
		t.Fatalf("expected other terminal unaffected, got %d", code)
	}
}

func TestOversizedOrderPreviewRejected(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	payload := kikomandoOrder("idem-oversized")
	payload["lines"] = []map[string]any{
		{"product_id": "prd-soda", "qty": 1, "price_unit": 1000, "note": strings.Repeat("x", (1<<20)+1024)},
	}
	res := send(t, api, http.MethodPost, "/api/v1/orders/preview", token, payload, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", res.Code)
	}
}

func TestManagerPINThrottleIsScopedToResource(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	deleteWithPIN := func(path string) int {
		req := httptest.NewRequest(http.MethodDelete, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		req.Header.Set("X-Manager-PIN", "999999")
		req.RemoteAddr = "10.0.0.9:5001"
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)
		return res.Code
	}

	for attempt := 1; attempt <= 8; attempt++ {
		if code := deleteWithPIN("/api/v1/sub-groups/sg-kikomando-1500"); code != http.StatusForbidden {
			t.Fatalf("attempt %d: expected 403, got %d", attempt, code)
		}
	}
	if code := deleteWithPIN("/api/v1/sub-groups/sg-kikomando-3000"); code != http.StatusTooManyRequests {
		t.Fatalf("expected sub-group deletes locked out, got %d", code)
	}
	if code := deleteWithPIN("/api/v1/combo-groups/grp-kikomando"); code != http.StatusForbidden {
		t.Fatalf("expected group deletes still checked, got %d", code)
	}
}

func TestOrderSubmitWithoutCSRFTokenNotStored(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "cashier", "cashier123")

	body, _ := json.Marshal(kikomandoOrder("idem-no-csrf"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}

	// the same key must still be free
	res = send(t, api, http.MethodPost, "/api/v1/orders", token, kikomandoOrder("idem-no-csrf"), nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected first real submission to create, got %d", res.Code)
	}
}

func TestValidCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	other := newTestAPI(t)

	cases := []struct {
		name  string
		token string
		want  bool
	}{
		{"issued", fetchCSRFToken(t, api), true},
		{"other instance", fetchCSRFToken(t, other), false},
		{"forged", "forged-token", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		if got := api.validCSRFToken(tc.token); got != tc.want {
			t.Errorf("%s: want %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestAuditLogLimit(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"9999", 500},
		{"", 100},
		{"ten", 100},
		{"-3", 100},
		{"25", 25},
	}
	for _, tc := range cases {
		if got := parsePositiveLimit(tc.raw, 100, 500); got != tc.want {
			t.Errorf("limit %q: want %d, got %d", tc.raw, tc.want, got)
		}
	}
}
