package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the client address for r. trustedHops is the number of
// reverse proxies in front of the server whose X-Forwarded-For entries are
// believed; 0 ignores the header entirely.
//
// The candidate chain is RemoteAddr followed by X-Forwarded-For read right
// to left. The address trustedHops steps into that chain is the client; if
// the chain is shorter, its furthest entry is used.
func ClientIP(r *http.Request, trustedHops int) string {
	chain := []string{remoteHost(r.RemoteAddr)}

	if trustedHops > 0 {
		var forwarded []string
		for _, header := range r.Header.Values("X-Forwarded-For") {
			for _, part := range strings.Split(header, ",") {
				if part = strings.TrimSpace(part); part != "" {
					forwarded = append(forwarded, part)
				}
			}
		}
		for i := len(forwarded) - 1; i >= 0; i-- {
			chain = append(chain, forwarded[i])
		}
	}

	idx := trustedHops
	if idx >= len(chain) {
		idx = len(chain) - 1
	}
	return chain[idx]
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
