package httpserver

import (
	"net/http"

	"confirmgate/internal/platform/config"
)

// New builds the HTTP server from the server config.
func New(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.RequestTimeout + cfg.ReadHeaderTimeout,
	}
}
