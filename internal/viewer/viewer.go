// Package viewer serves the local HTTP control surface: the call API, the
// websocket event stream, history, peers, logs and /metrics.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/petervdpas/goopcall/internal/state"
	"github.com/petervdpas/goopcall/internal/viewer/routes"
)

var log = logging.Logger("viewer")

type Viewer struct {
	Call    routes.CallController
	History routes.HistoryLister // optional
	Peers   *state.PeerTable     // optional
	Known   routes.PeerLister    // optional
	Logs    *LogBuffer           // optional

	// Gatherer backs /metrics. nil means the default registry.
	Gatherer prometheus.Gatherer

	// AllowedOrigins for CORS and websocket upgrades. Empty means only
	// same-host and loopback origins.
	AllowedOrigins []string
}

// Handler builds the complete HTTP handler.
func Handler(v Viewer) http.Handler {
	mux := http.NewServeMux()

	api := http.NewServeMux()
	routes.RegisterCall(api, v.Call, v.checkOrigin)
	routes.RegisterHistory(api, v.History)
	routes.RegisterPeers(api, v.Peers, v.Known)
	if v.Logs != nil {
		api.HandleFunc("/api/logs", v.Logs.ServeLogsJSON)
		api.HandleFunc("/api/logs/stream", v.Logs.ServeLogsSSE)
	}
	mux.Handle("/api/", noCache(api))

	gatherer := v.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}
	if len(v.AllowedOrigins) > 0 {
		opts.AllowedOrigins = v.AllowedOrigins
	} else {
		// rs/cors treats an empty list as "*".
		opts.AllowOriginFunc = isLoopbackOrigin
	}
	return cors.New(opts).Handler(mux)
}

// checkOrigin accepts websocket upgrades from the configured origins, the
// serving host itself and loopback pages.
func (v Viewer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range v.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	return isLoopbackOrigin(origin)
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Hostname() == "localhost" {
		return true
	}
	ip := net.ParseIP(u.Hostname())
	return ip != nil && ip.IsLoopback()
}

// Start serves v on addr until ctx is done.
func Start(ctx context.Context, addr string, v Viewer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(v),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("VIEWER: listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
