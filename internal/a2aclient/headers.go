package a2aclient

import "net/http"

// hopByHopHeaders are connection-specific and never forwarded (RFC 7230 Section 6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// forwardHeaders copies the named headers from src to dst, skipping hop-by-hop headers.
func forwardHeaders(dst, src http.Header, names []string) {
	if src == nil {
		return
	}
	for _, name := range names {
		if isHopByHop(name) {
			continue
		}
		for _, v := range src.Values(name) {
			dst.Add(name, v)
		}
	}
}

func isHopByHop(header string) bool {
	canonical := http.CanonicalHeaderKey(header)
	for _, h := range hopByHopHeaders {
		if canonical == h {
			return true
		}
	}
	return false
}
