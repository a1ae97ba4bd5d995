package server

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsTrusted(t *testing.T) {
	tp := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.5", "::1/128", "not-a-cidr"})

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"192.168.1.5", true},
		{"192.168.1.6", false},
		{"::1", true},
		{"203.0.113.9", false},
	}
	for _, tt := range tests {
		if got := tp.IsTrusted(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("IsTrusted(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	tp := NewTrustedProxies([]string{"10.0.0.0/8"})

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.9:4567",
			want:       "203.0.113.9",
		},
		{
			name:       "forwarded header from untrusted peer is ignored",
			remoteAddr: "203.0.113.9:4567",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.1"},
			want:       "203.0.113.9",
		},
		{
			name:       "forwarded header from trusted proxy",
			remoteAddr: "10.0.0.2:4567",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.2"},
			want:       "198.51.100.1",
		},
		{
			name:       "x-real-ip from trusted proxy",
			remoteAddr: "10.0.0.2:4567",
			headers:    map[string]string{"X-Real-IP": "198.51.100.7"},
			want:       "198.51.100.7",
		},
		{
			name:       "trusted proxy without headers",
			remoteAddr: "10.0.0.2:4567",
			want:       "10.0.0.2",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:4567",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := tp.ClientIPString(req); got != tt.want {
				t.Errorf("ClientIPString() = %q, want %q", got, tt.want)
			}
		})
	}
}
