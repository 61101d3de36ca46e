package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/srg/motionlink/internal/groutine"
)

// Server exposes a registry on /metrics.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *logrus.Logger
}

// Listen binds addr and starts serving gatherer in the background until
// ctx is done or Close is called.
func Listen(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *logrus.Logger) (*Server, error) {
	if logger == nil {
		logger = logrus.New()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s := &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger,
	}

	groutine.Go(ctx, "metrics-server", func(ctx context.Context) {
		logger.WithField("addr", s.Addr()).Info("Serving metrics")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
		}
	})
	if ctx.Done() != nil {
		groutine.Go(ctx, "metrics-server-stop", func(ctx context.Context) {
			<-ctx.Done()
			_ = s.Close()
		})
	}
	return s, nil
}

// Addr is the bound address, useful with ":0".
func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
