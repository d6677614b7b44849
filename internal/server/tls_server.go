package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/devserd/devserd/internal/config"
	"github.com/devserd/devserd/internal/supervisor"
	itls "github.com/devserd/devserd/internal/tls"
)

// NewTLSServer starts an HTTPS server per the server config. Certificate
// material is resolved by the tls package: explicit cert/key files win,
// then a certificate directory, with optional self-signed generation.
func NewTLSServer(sc config.ServerConfig, sup *supervisor.Supervisor) (*http.Server, error) {
	tlsConfig, err := itls.SetupTLS(sc)
	if err != nil {
		return nil, err
	}
	if tlsConfig == nil {
		return nil, fmt.Errorf("TLS is not enabled in server config")
	}

	r := NewRouter(sup, sc.BasePath)
	server := &http.Server{
		Addr:              sc.Listen,
		Handler:           r.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServeTLS("", "") }()
	return server, nil
}
