package httputil

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name        string
		remoteAddr  string
		forwarded   []string
		trustedHops int
		want        string
	}{
		{
			name:        "no proxy trusted",
			remoteAddr:  "10.0.0.1:5000",
			forwarded:   []string{"1.2.3.4"},
			trustedHops: 0,
			want:        "10.0.0.1",
		},
		{
			name:        "one hop picks nearest forwarded entry",
			remoteAddr:  "10.0.0.1:5000",
			forwarded:   []string{"6.6.6.6, 1.2.3.4"},
			trustedHops: 1,
			want:        "1.2.3.4",
		},
		{
			name:        "two hops",
			remoteAddr:  "10.0.0.1:5000",
			forwarded:   []string{"5.5.5.5, 1.2.3.4, 172.16.0.1"},
			trustedHops: 2,
			want:        "1.2.3.4",
		},
		{
			name:        "multiple headers are concatenated",
			remoteAddr:  "10.0.0.1:5000",
			forwarded:   []string{"1.2.3.4", "172.16.0.1"},
			trustedHops: 2,
			want:        "1.2.3.4",
		},
		{
			name:        "chain shorter than hops",
			remoteAddr:  "10.0.0.1:5000",
			forwarded:   []string{"1.2.3.4"},
			trustedHops: 5,
			want:        "1.2.3.4",
		},
		{
			name:        "no header",
			remoteAddr:  "10.0.0.1:5000",
			trustedHops: 1,
			want:        "10.0.0.1",
		},
		{
			name:        "remote addr without port",
			remoteAddr:  "10.0.0.1",
			trustedHops: 1,
			want:        "10.0.0.1",
		},
		{
			name:        "ipv6 remote",
			remoteAddr:  "[::1]:5000",
			trustedHops: 0,
			want:        "::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for _, v := range tt.forwarded {
				req.Header.Add("X-Forwarded-For", v)
			}

			assert.Equal(t, tt.want, ClientIP(req, tt.trustedHops))
		})
	}
}
