package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionFor wraps a compression middleware handler so that requests
// whose path starts with one of the given prefixes bypass it entirely.
// Relayed media must reach the client through an unwrapped ResponseWriter;
// compression middleware buffers writes and interferes with streaming.
func SkipCompressionFor(prefixes []string, compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range prefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			compressedHandler.ServeHTTP(w, r)
		})
	}
}
