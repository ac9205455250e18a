package httpserver

import (
	"net/http"
	"time"
)

// New builds the HTTP server for the ledger API. Purchase and grading
// requests are small JSON bodies, so the timeouts are tight; blob uploads
// are the only larger payloads and stay well under the write window.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
