// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the /health endpoint returns HTTP 200, and 1
// otherwise. QUOTEGATE_HEALTH_URL overrides the checked URL; otherwise
// QUOTEGATE_PORT selects the local port. Compile with CGO_ENABLED=0 for a
// fully static binary.
package main

import (
	"net/http"
	"os"
	"time"
)

func healthURL() string {
	if u := os.Getenv("QUOTEGATE_HEALTH_URL"); u != "" {
		return u
	}
	port := os.Getenv("QUOTEGATE_PORT")
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port + "/health"
}

func main() {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(healthURL())
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
