package controller

import (
	"net/http"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/mux"

	"github.com/nomidot/valtable/app/query/types"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodDelete+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods(http.MethodGet)

	r.HandleFunc("/sessions/latest", c.HandleLatestSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{session:[0-9]+}/validators", c.HandleSessionValidators).Methods(http.MethodGet)
	r.HandleFunc("/validators", c.HandleLatestValidators).Methods(http.MethodGet)

	r.HandleFunc("/carts/{cart}", c.HandleCartList).Methods(http.MethodGet)
	r.HandleFunc("/carts/{cart}", c.HandleCartClear).Methods(http.MethodDelete)
	r.HandleFunc("/carts/{cart}/items", c.HandleCartAdd).Methods(http.MethodPost)
	r.HandleFunc("/carts/{cart}/items/{stash}", c.HandleCartRemove).Methods(http.MethodDelete)

	r.HandleFunc("/ws", c.HandleWebSocket).Methods(http.MethodGet)

	return r, nil
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
