package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanord/engine/pkg/log"
	"github.com/scanord/engine/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler continuously, exposing Prometheus metrics",
	Long: `Serve starts the promotion tick and watchdog loops and binds an HTTP
listener exposing /metrics (Prometheus text exposition) and /healthz
(liveness only). It deliberately does not bind the Control API's
REST/WebSocket projection (out of scope, §1) — only observability
endpoints. SIGINT/SIGTERM trigger a graceful shutdown: the HTTP server
is closed, the scheduler's root context is cancelled, and every live
supervisor is given a chance to escalate its children to SIGKILL before
the process exits.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":9090", "Address for the metrics/healthz HTTP listener")
}

func runServe(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")

	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)

	collector := eng.MetricsCollector(15 * time.Second)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.LivenessHandler())

	srv := &http.Server{Addr: listen, Handler: mux}
	serveErrCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("metrics listener bound on %s", listen))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErrCh:
		log.Errorf("metrics listener failed", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return eng.Stop()
}
