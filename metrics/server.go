package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pentops/log.go/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves Prometheus metrics over HTTP until its context is done.
type Server struct {
	addr      string
	handler   http.Handler
	listening chan struct{}
}

func NewServer(addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		addr:      addr,
		handler:   mux,
		listening: make(chan struct{}),
	}
}

func (ss *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", ss.addr)
	if err != nil {
		return fmt.Errorf("metrics server failed to listen: %w", err)
	}

	srv := http.Server{
		Handler:           ss.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ss.addr = lis.Addr().String()
	close(ss.listening)

	log.WithField(ctx, "addr", ss.addr).Info("metrics server listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(ctx, err).Error("Error shutting down metrics server")
		}
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Addr blocks until the server is listening.
func (ss *Server) Addr() string {
	<-ss.listening
	return ss.addr
}
