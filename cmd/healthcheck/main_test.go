package main

import "testing"

func TestHealthURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		port     string
		expected string
	}{
		{"default", "", "", "http://localhost:8080/health"},
		{"port", "", "9000", "http://localhost:9000/health"},
		{"explicit url wins", "http://quotegate:8081/api/health", "9000", "http://quotegate:8081/api/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("QUOTEGATE_HEALTH_URL", tt.url)
			t.Setenv("QUOTEGATE_PORT", tt.port)
			if got := healthURL(); got != tt.expected {
				t.Errorf("healthURL() = %q, want %q", got, tt.expected)
			}
		})
	}
}
