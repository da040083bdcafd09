package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForStreams wraps a compression middleware so that
// long-lived multipart responses bypass it. A request is treated as a
// stream when its path starts with one of paths or it asks for
// multipart/x-mixed-replace.
func SkipCompressionForStreams(compressionHandler func(http.Handler) http.Handler, paths ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Accept"), "multipart/x-mixed-replace") {
				next.ServeHTTP(w, r)
				return
			}
			for _, p := range paths {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			compressedHandler.ServeHTTP(w, r)
		})
	}
}
