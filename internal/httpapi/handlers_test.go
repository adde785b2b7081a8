package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokoretur/backend/internal/cache"
	"tokoretur/backend/internal/service"
	"tokoretur/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	// Pin the seed credentials so a SEED_ADMIN_PASSWORD in the real
	// environment cannot change what loginAsAdmin expects.
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopCatalogCache{}, time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

const refundPayload = `{
	"date": "2026-02-14",
	"title": "Retur supplier",
	"description": "dus rusak",
	"discount": 20,
	"account_id": 1,
	"items": [
		{"item_id": 1, "price": 100, "quantity": 3, "discount": 10},
		{"item_id": 2, "price": 50, "quantity": 1, "discount": 0}
	]
}`

// doAuthed performs a request with bearer and CSRF headers already attached.
func doAuthed(t *testing.T, api *API, token, csrf, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{
		"email":    "admin@tokoretur.id",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{
		"email":    "admin@tokoretur.id",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestRefundEndpointsRequireAuth(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/api/v1/refunds", "/api/v1/refunds/1", "/api/v1/items"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		api.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s expected 401, got %d", path, rec.Code)
		}
	}
}

func TestRefundLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	// Create.
	rec := doAuthed(t, api, token, csrf, http.MethodPost, "/api/v1/refunds", refundPayload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Refund struct {
			ID         int64             `json:"id"`
			Total      json.Number       `json:"total"`
			GrandTotal json.Number       `json:"grand_total"`
			Items      []refundLineProbe `json:"refund_items"`
		} `json:"refund"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.Refund.Total.String() != "320" {
		t.Fatalf("expected total 320, got %s", created.Refund.Total)
	}
	if created.Refund.GrandTotal.String() != "300" {
		t.Fatalf("expected grand total 300, got %s", created.Refund.GrandTotal)
	}
	if len(created.Refund.Items) != 2 {
		t.Fatalf("expected 2 hydrated items, got %d", len(created.Refund.Items))
	}
	if created.Refund.Items[0].Item == nil {
		t.Fatalf("expected hydrated catalog item on line")
	}
	id := strconv.FormatInt(created.Refund.ID, 10)

	// Read back.
	rec = doAuthed(t, api, token, csrf, http.MethodGet, "/api/v1/refunds/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get expected 200, got %d", rec.Code)
	}

	// List with a query that matches the description.
	rec = doAuthed(t, api, token, csrf, http.MethodGet, "/api/v1/refunds?q=rusak", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list expected 200, got %d", rec.Code)
	}
	var listed struct {
		Items []json.RawMessage `json:"items"`
		Total int64             `json:"total"`
		Page  int               `json:"page"`
		Limit int               `json:"limit"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if listed.Total != 1 || len(listed.Items) != 1 {
		t.Fatalf("expected one match, got total %d rows %d", listed.Total, len(listed.Items))
	}
	if listed.Page != 1 || listed.Limit != 10 {
		t.Fatalf("expected default page/limit 1/10, got %d/%d", listed.Page, listed.Limit)
	}

	// Full-replace update down to a single line.
	update := `{
		"date": "2026-02-15",
		"title": null,
		"description": "revisi retur",
		"discount": 0,
		"account_id": 1,
		"items": [{"item_id": 3, "price": 10, "quantity": 2, "discount": 0}]
	}`
	rec = doAuthed(t, api, token, csrf, http.MethodPut, "/api/v1/refunds/"+id, update)
	if rec.Code != http.StatusOK {
		t.Fatalf("update expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var updated struct {
		Refund struct {
			GrandTotal json.Number       `json:"grand_total"`
			Items      []refundLineProbe `json:"refund_items"`
		} `json:"refund"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&updated); err != nil {
		t.Fatalf("decode update response: %v", err)
	}
	if len(updated.Refund.Items) != 1 {
		t.Fatalf("expected item set replaced, got %d items", len(updated.Refund.Items))
	}
	if updated.Refund.GrandTotal.String() != "20" {
		t.Fatalf("expected grand total 20 after update, got %s", updated.Refund.GrandTotal)
	}

	// Delete returns the final snapshot, then the refund is gone.
	rec = doAuthed(t, api, token, csrf, http.MethodDelete, "/api/v1/refunds/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = doAuthed(t, api, token, csrf, http.MethodGet, "/api/v1/refunds/"+id, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete expected 404, got %d", rec.Code)
	}
}

type refundLineProbe struct {
	ItemID int64 `json:"item_id"`
	Item   *struct {
		Name string `json:"name"`
	} `json:"item"`
}

func TestCreateRefundUnknownItemReturns422(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	payload := `{
		"date": "2026-02-14",
		"discount": 0,
		"account_id": 1,
		"items": [{"item_id": 9999, "price": 5, "quantity": 1, "discount": 0}]
	}`
	rec := doAuthed(t, api, token, csrf, http.MethodPost, "/api/v1/refunds", payload)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCreateRefundUnknownFieldReturns400(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	payload := `{"date": "2026-02-14", "discount": 0, "account_id": 1, "items": [], "bogus": 1}`
	rec := doAuthed(t, api, token, csrf, http.MethodPost, "/api/v1/refunds", payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestRefundActionRejectsBadID(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doAuthed(t, api, token, csrf, http.MethodGet, "/api/v1/refunds/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric id, got %d", rec.Code)
	}
}

func TestGetMissingRefundReturns404(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doAuthed(t, api, token, csrf, http.MethodGet, "/api/v1/refunds/424242", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleItemsReturnsCatalog(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doAuthed(t, api, token, csrf, http.MethodGet, "/api/v1/items", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Items []struct {
			Name string `json:"name"`
			Unit *struct {
				Name string `json:"name"`
			} `json:"unit"`
		} `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode items: %v", err)
	}
	if len(body.Items) == 0 {
		t.Fatalf("expected seeded catalog items")
	}
	if body.Items[0].Unit == nil || body.Items[0].Unit.Name == "" {
		t.Fatalf("expected items joined with their unit")
	}
}

func TestHandleAuthUserReturnsActor(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doAuthed(t, api, token, csrf, http.MethodGet, "/api/v1/auth/user", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["email"] != "admin@tokoretur.id" {
		t.Fatalf("expected actor email, got %q", body["email"])
	}
}

func TestHandleLogoutAcknowledgesSignOut(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doAuthed(t, api, token, csrf, http.MethodPost, "/api/v1/auth/logout", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}

	// Tokens are stateless, so the bearer token still parses afterwards;
	// sign-out is the client discarding its copy.
	rec = doAuthed(t, api, token, csrf, http.MethodGet, "/api/v1/auth/user", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected token to stay valid after logout, got %d", rec.Code)
	}
}

func TestHandleLogoutRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	csrf := fetchCSRFToken(t, api)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", strings.NewReader(""))
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer token, got %d", rec.Code)
	}
}

func TestHandleChangePasswordWrongCurrentReturns403(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	payload := `{"current_password": "nope", "new_password": "muchlongerpass"}`
	rec := doAuthed(t, api, token, csrf, http.MethodPost, "/api/v1/auth/password", payload)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
