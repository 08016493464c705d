package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/agentorch/ao/internal/gateway"
	"github.com/agentorch/ao/internal/janitor"
	"github.com/agentorch/ao/internal/lifecycle"
	"github.com/agentorch/ao/internal/metrics"
	"github.com/agentorch/ao/internal/tracing"
)

// cmdRun starts the long-running orchestrator: lifecycle controller,
// HTTP gateway and janitor, shut down together on SIGINT/SIGTERM.
func cmdRun(ctx context.Context, g globals, _ []string) error {
	a, err := newServiceApp(g)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log.WithComponent("service")

	home, err := a.cfg.HomeDir()
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	met := metrics.New(promReg)

	outcomes, err := metrics.OpenOutcomeLog(filepath.Join(home, "outcomes.jsonl"))
	if err != nil {
		return err
	}
	defer outcomes.Close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	controller := lifecycle.New(a.manager, a.reg, a.cfg, a.rec, a.log, lifecycle.Options{
		Metrics:  met,
		Outcomes: outcomes,
	})
	controller.Start(ctx)
	defer controller.Stop()

	jan, err := janitor.New(a.cfg.Janitor, a.manager, a.log)
	if err != nil {
		return err
	}
	jan.Start()
	defer jan.Stop()

	errCh := make(chan error, 1)
	var gw *gateway.Server
	if a.cfg.Gateway.Enabled {
		gw = gateway.New(a.cfg.Gateway, a.manager, a.rec, a.log, gateway.Options{
			Bus:      a.bus,
			Gatherer: promReg,
		})
		go func() {
			errCh <- gw.Start(ctx)
		}()
	}

	log.Info("orchestrator running",
		zap.Bool("gateway", a.cfg.Gateway.Enabled),
		zap.String("janitor_schedule", a.cfg.Janitor.Schedule))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if gw != nil {
		if err := gw.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("gateway shutdown failed")
		}
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracing shutdown failed")
	}
	return nil
}
