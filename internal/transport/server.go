// Package transport provides the development harness that stands in
// for the token's real USB HID/CCID/CDC and ISO-14443 links: an HTTP
// server exposing raw APDU and HID-report endpoints, following the
// same listen/graceful-shutdown shape as the teacher's RendezvousServer
// (cmd/rendezvous.go).
package transport

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Server is the HTTP development harness.
type Server struct {
	addr    string
	handler http.Handler
}

// NewServer constructs a Server listening on addr and routing requests
// to handler.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{addr: addr, handler: handler}
}

// Start listens and serves until the process receives SIGINT/SIGTERM,
// then shuts down gracefully within 5 seconds.
func (s *Server) Start() error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 3 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("transport: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("transport: forced shutdown", "err", err)
		}
	}()

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	defer func() { _ = lis.Close() }()
	slog.Info("transport: listening", "addr", lis.Addr().String())

	return srv.Serve(lis)
}
