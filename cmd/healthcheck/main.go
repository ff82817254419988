// Command healthcheck is the container health check for ordersync. It asks the
// running service for GET /api/v1/health and exits 0 while the service is
// live. A degraded service still passes; only a failing dependency or an
// unreachable server fails the check.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:8080"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addr := normalizeAddr(os.Getenv("ORDERSYNC_LISTEN_ADDR"))
	if err := checkHealth(ctx, &http.Client{Timeout: 2 * time.Second}, "http://"+addr); err != nil {
		fmt.Fprintln(os.Stderr, "healthcheck:", err)
		return 1
	}
	return 0
}

// healthBody is the part of the health response the check reads.
type healthBody struct {
	Status string `json:"status"`
}

// checkHealth calls the health endpoint under baseURL and returns an error unless it
// answers 200 with a non-failing status.
func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %d", resp.StatusCode)
	}

	var body healthBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	if body.Status == "failing" {
		return fmt.Errorf("service reports %q", body.Status)
	}

	return nil
}

// normalizeAddr points the check at loopback when the service binds every
// interface. The check runs inside the same container as the service.
func normalizeAddr(raw string) string {
	if raw == "" {
		return defaultAddr
	}

	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return defaultAddr
	}

	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port)
}
