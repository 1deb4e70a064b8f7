package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS returns a handler wrapper allowing read-only cross-origin requests
// from origins. An empty list allows any origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	})
	return c.Handler
}
