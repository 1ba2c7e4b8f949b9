package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		trustProxy bool
		proxyCount int
		want       string
	}{
		{
			name:       "remote addr",
			remoteAddr: "192.0.2.1:1234",
			want:       "192.0.2.1",
		},
		{
			name:       "headers ignored without trust",
			remoteAddr: "192.0.2.1:1234",
			xff:        "203.0.113.7",
			xRealIP:    "203.0.113.8",
			want:       "192.0.2.1",
		},
		{
			name:       "single proxy",
			remoteAddr: "10.0.0.1:1234",
			xff:        "198.51.100.1, 203.0.113.7, 10.0.0.2",
			trustProxy: true,
			proxyCount: 1,
			want:       "203.0.113.7",
		},
		{
			name:       "two proxies",
			remoteAddr: "10.0.0.1:1234",
			xff:        "198.51.100.1, 203.0.113.7, 10.0.0.2",
			trustProxy: true,
			proxyCount: 2,
			want:       "198.51.100.1",
		},
		{
			name:       "fewer hops than proxies",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.7",
			trustProxy: true,
			proxyCount: 3,
			want:       "203.0.113.7",
		},
		{
			name:       "invalid forwarded entry falls back to real ip",
			remoteAddr: "10.0.0.1:1234",
			xff:        "not-an-ip, 10.0.0.2",
			xRealIP:    "203.0.113.8",
			trustProxy: true,
			proxyCount: 1,
			want:       "203.0.113.8",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "192.0.2.1",
			want:       "192.0.2.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if got := GetClientIP(r, tt.trustProxy, tt.proxyCount); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
