// Package simcompanies implements the MarketClient port over the remote game API.
package simcompanies

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
	"github.com/ericfisherdev/ordersync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.MarketClient = (*Client)(nil)

const (
	csrfPath       = "/api/csrf/"
	loginPath      = "/api/v2/auth/email/auth/"
	buildingsPath  = "/api/v2/companies/me/buildings/"
	saleOrdersPath = "/api/v2/companies/buildings/%d/sales-orders/"

	sessionCookieName = "sessionid"
	csrfCookieName    = "csrftoken"

	// maxErrorBody bounds how much of an error response is kept for diagnostics.
	maxErrorBody = 512
)

// Config holds the settings needed to talk to the remote API.
type Config struct {
	BaseURL        string
	Email          string
	Password       string
	TimezoneOffset int
	// RequestsPerSecond limits outbound calls. Zero disables limiting.
	RequestsPerSecond float64
	// HTTPClient overrides the default client; used by tests.
	HTTPClient *http.Client
}

// Client implements the driven.MarketClient port.
type Client struct {
	baseURL        string
	email          string
	password       string
	timezoneOffset int
	httpClient     *http.Client
	limiter        *rate.Limiter
}

// APIError is returned when the remote API answers with a non-2xx status.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		email:          cfg.Email,
		password:       cfg.Password,
		timezoneOffset: cfg.TimezoneOffset,
		httpClient:     httpClient,
		limiter:        limiter,
	}
}

type csrfResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// FetchCSRFToken requests a fresh anti-forgery token.
func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	var body csrfResponse
	if err := c.getJSON(ctx, csrfPath, nil, &body); err != nil {
		return "", fmt.Errorf("fetch csrf token: %w", err)
	}
	if body.CSRFToken == "" {
		return "", errors.New("fetch csrf token: csrfToken not found in response")
	}
	return body.CSRFToken, nil
}

type loginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	TimezoneOffset int    `json:"timezone_offset"`
}

// Login exchanges the account credentials for a session cookie. The returned
// string is the raw Set-Cookie value, attributes included.
func (c *Client) Login(ctx context.Context, csrfToken string) (string, error) {
	payload, err := json.Marshal(loginRequest{
		Email:          c.email,
		Password:       c.password,
		TimezoneOffset: c.timezoneOffset,
	})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-CSRFToken", csrfToken)
	headers.Set("Cookie", csrfCookieName+"="+csrfToken)
	headers.Set("Referer", c.baseURL+"/")

	resp, err := c.do(ctx, http.MethodPost, loginPath, headers, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	for _, raw := range resp.Header.Values("Set-Cookie") {
		if strings.HasPrefix(strings.TrimSpace(raw), sessionCookieName+"=") {
			return strings.TrimSpace(raw), nil
		}
	}

	return "", fmt.Errorf("login: response carried no %s cookie", sessionCookieName)
}

type remoteResource struct {
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
	Kind   int     `json:"kind"`
}

type remoteSaleOrder struct {
	ID           int64            `json:"id"`
	Datetime     time.Time        `json:"datetime"`
	SearchCost   int64            `json:"searchCost"`
	Resources    []remoteResource `json:"resources"`
	QualityBonus *float64         `json:"qualityBonus"`
	SpeedBonus   *float64         `json:"speedBonus"`
}

// FetchSaleOrders returns the current sale orders of a sales building.
func (c *Client) FetchSaleOrders(ctx context.Context, credential string, buildingID int64) ([]model.SaleOrder, error) {
	var remote []remoteSaleOrder
	path := fmt.Sprintf(saleOrdersPath, buildingID)
	if err := c.getJSON(ctx, path, sessionHeader(credential), &remote); err != nil {
		return nil, fmt.Errorf("fetch sale orders for building %d: %w", buildingID, err)
	}

	orders := make([]model.SaleOrder, 0, len(remote))
	for _, r := range remote {
		orders = append(orders, mapSaleOrder(r, buildingID))
	}
	return orders, nil
}

type remoteBuilding struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Size     int    `json:"size"`
	Kind     string `json:"kind"`
	Category string `json:"category"`
	Cost     int64  `json:"cost"`
}

// FetchBuildings returns every building of the authenticated company.
func (c *Client) FetchBuildings(ctx context.Context, credential string) ([]model.Building, error) {
	var remote []remoteBuilding
	if err := c.getJSON(ctx, buildingsPath, sessionHeader(credential), &remote); err != nil {
		return nil, fmt.Errorf("fetch buildings: %w", err)
	}

	buildings := make([]model.Building, 0, len(remote))
	for _, r := range remote {
		buildings = append(buildings, model.Building{
			ID:       r.ID,
			Name:     r.Name,
			Size:     r.Size,
			Kind:     r.Kind,
			Category: r.Category,
			Cost:     r.Cost,
		})
	}
	return buildings, nil
}

func mapSaleOrder(r remoteSaleOrder, buildingID int64) model.SaleOrder {
	resources := make([]model.Resource, 0, len(r.Resources))
	for _, res := range r.Resources {
		resources = append(resources, model.Resource{Amount: res.Amount, Price: res.Price, Kind: res.Kind})
	}

	o := model.SaleOrder{
		ID:           r.ID,
		BuildingID:   buildingID,
		Datetime:     r.Datetime.UTC(),
		SearchCost:   r.SearchCost,
		Resources:    resources,
		QualityBonus: r.QualityBonus,
		SpeedBonus:   r.SpeedBonus,
	}
	o.Resolved = o.IsResolved()
	return o
}

// sessionHeader builds the Cookie header from a stored credential, dropping
// the Set-Cookie attributes after the first name=value pair.
func sessionHeader(credential string) http.Header {
	pair, _, _ := strings.Cut(credential, ";")
	h := http.Header{}
	h.Set("Cookie", strings.TrimSpace(pair))
	return h
}

func (c *Client) getJSON(ctx context.Context, path string, headers http.Header, dst any) error {
	resp, err := c.do(ctx, http.MethodGet, path, headers, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// do sends a rate-limited request and converts non-2xx responses to *APIError.
// On success the caller owns resp.Body.
func (c *Client) do(ctx context.Context, method, path string, headers http.Header, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	return resp, nil
}
