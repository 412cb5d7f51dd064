package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	logging "github.com/ipfs/go-log/v2"
	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats/view"
	"golang.org/x/xerrors"
)

var log = logging.Logger("metrics")

// Serve registers the default views and exposes them on addr under /metrics
// until ctx is done. The returned address is the one actually bound.
func Serve(ctx context.Context, addr string) (string, error) {
	if err := view.Register(DefaultViews...); err != nil {
		return "", xerrors.Errorf("registering views: %w", err)
	}

	// the default registry carries the go runtime and process collectors
	registry := promclient.DefaultRegisterer.(*promclient.Registry)
	pe, err := prometheus.NewExporter(prometheus.Options{
		Registry:  registry,
		Namespace: "sealstress",
	})
	if err != nil {
		return "", xerrors.Errorf("creating the Prometheus stats exporter: %w", err)
	}

	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return "", xerrors.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", pe)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		if err := srv.Serve(lst); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics endpoint stopped", "error", err)
		}
	}()

	return lst.Addr().String(), nil
}
