// Package httputil holds the request and response plumbing shared by every
// gateway route: JSON bodies, error envelopes, bearer token extraction,
// client address resolution behind proxies, and common middleware.
//
//	tok, err := httputil.ExtractToken(r) // header first, then ?token=
//	ip := httputil.ClientIP(r, 1)        // one trusted proxy hop
//
//	handler := httputil.Chain(
//		httputil.SecurityHeadersMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
