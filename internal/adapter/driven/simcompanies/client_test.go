package simcompanies

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSetCookie = "sessionid=abc123; expires=Sat, 31 Oct 2026 10:00:00 GMT; HttpOnly; Max-Age=1209600; Path=/; SameSite=Lax; Secure"

func setupTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:        srv.URL + "/",
		Email:          "ops@example.com",
		Password:       "hunter2",
		TimezoneOffset: -360,
		HTTPClient:     srv.Client(),
	})
}

func TestClient_FetchCSRFToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/csrf/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"csrfToken":"tok-1"}`))
	})
	c := setupTestClient(t, mux)

	token, err := c.FetchCSRFToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestClient_FetchCSRFToken_MissingToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/csrf/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	c := setupTestClient(t, mux)

	_, err := c.FetchCSRFToken(context.Background())
	assert.Error(t, err)
}

func TestClient_Login(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/auth/email/auth/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-1", r.Header.Get("X-CSRFToken"))
		assert.Equal(t, "csrftoken=tok-1", r.Header.Get("Cookie"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ops@example.com", body["email"])
		assert.Equal(t, "hunter2", body["password"])
		assert.InDelta(t, -360, body["timezone_offset"], 0)

		w.Header().Add("Set-Cookie", "csrftoken=tok-2; Path=/")
		w.Header().Add("Set-Cookie", testSetCookie)
		w.WriteHeader(http.StatusOK)
	})
	c := setupTestClient(t, mux)

	cookie, err := c.Login(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, testSetCookie, cookie)
}

func TestClient_Login_NoSessionCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/auth/email/auth/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c := setupTestClient(t, mux)

	_, err := c.Login(context.Background(), "tok-1")
	assert.Error(t, err)
}

func TestClient_Login_Rejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/auth/email/auth/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"bad credentials"}`, http.StatusForbidden)
	})
	c := setupTestClient(t, mux)

	_, err := c.Login(context.Background(), "tok-1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "bad credentials")
}

func TestClient_FetchSaleOrders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/companies/buildings/42/sales-orders/", func(w http.ResponseWriter, r *http.Request) {
		// Only the name=value pair of the stored Set-Cookie is sent back.
		assert.Equal(t, "sessionid=abc123", r.Header.Get("Cookie"))
		_, _ = w.Write([]byte(`[
			{"id": 1, "datetime": "2026-03-01T12:00:00Z", "searchCost": 150, "resources": []},
			{"id": 2, "datetime": "2026-02-27T08:30:00+01:00", "searchCost": 90,
			 "resources": [{"amount": 12, "price": 4.5, "kind": 3}],
			 "qualityBonus": 0.25, "speedBonus": 1.1}
		]`))
	})
	c := setupTestClient(t, mux)

	orders, err := c.FetchSaleOrders(context.Background(), testSetCookie, 42)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, int64(1), orders[0].ID)
	assert.Equal(t, int64(42), orders[0].BuildingID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), orders[0].Datetime)
	assert.False(t, orders[0].Resolved)
	assert.Nil(t, orders[0].QualityBonus)

	assert.True(t, orders[1].Resolved)
	assert.Equal(t, time.Date(2026, 2, 27, 7, 30, 0, 0, time.UTC), orders[1].Datetime)
	require.NotNil(t, orders[1].SpeedBonus)
	assert.InDelta(t, 1.1, *orders[1].SpeedBonus, 1e-9)
}

func TestClient_FetchSaleOrders_ServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/companies/buildings/42/sales-orders/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := setupTestClient(t, mux)

	_, err := c.FetchSaleOrders(context.Background(), testSetCookie, 42)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestClient_FetchBuildings(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v2/companies/me/buildings/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": 10, "name": "Shop North", "size": 4, "kind": "B", "category": "sales", "cost": 9000},
			{"id": 11, "name": "Farm", "size": 2, "kind": "F", "category": "production", "cost": 1200}
		]`))
	})
	c := setupTestClient(t, mux)

	buildings, err := c.FetchBuildings(context.Background(), testSetCookie)
	require.NoError(t, err)
	require.Len(t, buildings, 2)
	assert.Equal(t, "Shop North", buildings[0].Name)
	assert.Equal(t, "sales", buildings[0].Category)
	assert.Equal(t, int64(9000), buildings[0].Cost)
}

func TestClient_RateLimitHonorsContext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/csrf/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"csrfToken":"tok"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: srv.URL, RequestsPerSecond: 0.001, HTTPClient: srv.Client()})

	_, err := c.FetchCSRFToken(context.Background())
	require.NoError(t, err, "first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.FetchCSRFToken(ctx)
	assert.Error(t, err)
}
