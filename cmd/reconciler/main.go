// Command reconciler runs the real-time trading state reconciliation core:
// the streaming session, order/position pipelines, and the trade ledger.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"

	"reconcore/internal/app"
	"reconcore/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	pprofAddr := flag.String("pprof-addr", "localhost:6060", "address for the pprof debug server")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	if addr := os.Getenv("PYROSCOPE_SERVER_ADDRESS"); addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "reconcore",
			ServerAddress:   addr,
			Tags:            map[string]string{"sandbox": boolTag(cfg.Exchange.Sandbox)},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			slog.Warn("pyroscope start failed, continuing without profiling", "err", err)
		} else {
			defer profiler.Stop()
		}
	}

	go func() {
		if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
			slog.Warn("pprof server stopped", "err", err)
		}
	}()

	orchestrator, err := app.New(cfg)
	if err != nil {
		slog.Error("orchestrator init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.Run(ctx); err != nil {
		slog.Error("orchestrator exited with error", "err", err)
		os.Exit(1)
	}
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
