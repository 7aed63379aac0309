// Command driver runs one simulated load against a concurrency-queue
// service: it generates synthetic per-tenant job traffic through the
// scheduler, drains on shutdown or when its configured duration elapses,
// and prints a final report. It is the harness spec.md §6/§8 describes,
// not a long-lived service — the teacher's own main.go wires an HTTP API
// server the same explicit way this wires a one-shot run.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duskline/crawlforge/internal/clock"
	"github.com/duskline/crawlforge/internal/config"
	"github.com/duskline/crawlforge/internal/metricscollector"
	"github.com/duskline/crawlforge/internal/oracle"
	"github.com/duskline/crawlforge/internal/queueclient"
	"github.com/duskline/crawlforge/internal/report"
	"github.com/duskline/crawlforge/internal/scheduler"
)

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

func run(args []string, env func(string) string, stdout, stderr *os.File) (code int) {
	// The scheduler's main loop panics on an invariant violation (e.g.
	// scheduler.ErrAtCapacity); turn that into a diagnostic and exit code 1.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "driver: fatal error in main loop: %v\n", r)
			code = 1
		}
	}()

	cfg, exitCode, ok := config.Parse(args, env, stderr)
	if !ok {
		return exitCode
	}

	logger := log.New(stdout, "", log.LstdFlags)
	if cfg.Verbose {
		logger.Printf("driver: starting run, serviceUrl=%s durationSeconds=%d workerConcurrency=%d",
			cfg.ServiceURL, cfg.DurationSeconds, cfg.WorkerConcurrency)
	}

	clk := clock.Real{}
	metrics := metricscollector.NewCollector(cfg.MetricsBufferSize)
	o := oracle.New(oracle.Options{})

	var doer queueclient.Doer = &http.Client{Timeout: 30 * time.Second}
	doer = queueclient.NewBreakerDoer(doer, 5, 10*time.Second)
	doer = queueclient.NewRateLimitedDoer(doer, 500, 100)

	client := queueclient.New(cfg.ServiceURL, doer, clk, metrics, o)

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), 5*time.Second)
	healthRes := client.Health(healthCtx)
	cancelHealth()
	if !healthRes.Success {
		fmt.Fprintf(stderr, "driver: health check failed at startup: %s\n", healthRes.Error)
		return 1
	}

	tiers := make([]*scheduler.Tier, 0, len(cfg.TeamTiers))
	for _, ts := range cfg.TeamTiers {
		tiers = append(tiers, &scheduler.Tier{
			Name:             ts.Name,
			TeamCount:        ts.TeamCount,
			ConcurrencyLimit: ts.ConcurrencyLimit,
			JobsPerSecond:    ts.JobsPerSecond,
		})
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.WorkerConcurrency = cfg.WorkerConcurrency
	schedCfg.JobProcessingDelay = time.Duration(cfg.JobProcessingDelayMs) * time.Millisecond

	sched := scheduler.New(schedCfg, clk, client, o, metrics, tiers)

	// Mirror every Collector.Record call into a dedicated registry (never
	// the global one, so repeated runs in the same process — as in this
	// binary's own tests — never collide on already-registered series).
	reg := prometheus.NewRegistry()
	metrics.AttachPrometheus(metricscollector.NewPromBridge(reg))

	runStart := clk.Now()
	snapshot := func() report.FinalReport {
		return report.Build(sched.RunID(), clk.Now().Sub(runStart), metrics, o, tenantSummaries(sched), 0)
	}

	debugMux := http.NewServeMux()
	debugMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	dashboard := report.NewDashboardHub(snapshot, time.Duration(cfg.ReportIntervalSeconds)*time.Second)
	debugMux.Handle("/dashboard", dashboard)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	debugCtx, stopDebug := context.WithCancel(context.Background())
	defer stopDebug()
	if lis, err := net.Listen("tcp", "127.0.0.1:0"); err != nil {
		logger.Printf("driver: debug endpoints disabled, failed to bind a local port: %v", err)
	} else {
		defer lis.Close()
		go http.Serve(lis, debugMux)
		go dashboard.Run(debugCtx)
		logger.Printf("driver: debug endpoints (metrics, dashboard) listening on %s", lis.Addr())
	}

	printInterval := time.Duration(cfg.ReportIntervalSeconds) * time.Second
	printer := report.NewPrinter(logger, printInterval, metrics)
	printerCtx, stopPrinter := context.WithCancel(context.Background())
	defer stopPrinter()
	go printer.Run(printerCtx)

	logger.Printf("driver: run %s started, %d tenants, duration=%ds", sched.RunID(), len(tiers), cfg.DurationSeconds)

	sched.Run(ctx, time.Duration(cfg.DurationSeconds)*time.Second)
	elapsed := clk.Now().Sub(runStart)
	stopPrinter()
	stopDebug()

	tenants := tenantSummaries(sched)
	var totalOverflow int
	if pushStats := metrics.Stats(metricscollector.OpPush); pushStats.TotalRequests > 0 {
		totalOverflow = pushStats.SuccessCount
	}

	final := report.Build(sched.RunID(), elapsed, metrics, o, tenants, totalOverflow)

	if cfg.ReportDatabaseURL != "" {
		archiveCtx, cancelArchive := context.WithTimeout(context.Background(), 10*time.Second)
		archive, err := report.NewArchive(archiveCtx, cfg.ReportDatabaseURL)
		if err != nil {
			logger.Printf("driver: report archive unavailable, skipping persistence: %v", err)
		} else {
			if err := archive.Save(archiveCtx, final); err != nil {
				logger.Printf("driver: failed to save report to run_reports: %v", err)
			}
			archive.Close()
		}
		cancelArchive()
	}

	if cfg.CorrectnessChecking {
		if len(final.Oracle.Violations) > 0 {
			logger.Printf("driver: oracle reported %d violation(s): %v", len(final.Oracle.Violations), final.Oracle.ViolationCounts)
		}
		if len(final.Oracle.Warnings) > 0 {
			logger.Printf("driver: oracle reported %d warning(s)", len(final.Oracle.Warnings))
		}
	}

	logger.Printf("driver: run %s finished in %s", final.RunID, final.Duration)
	for _, op := range final.Operations {
		logger.Printf("driver: summary op=%s total=%d success_rate=%.2f%% p50=%.1fms p99=%.1fms",
			op.Operation, op.Stats.TotalRequests, op.Stats.SuccessRate*100, op.Stats.P50, op.Stats.P99)
	}
	for _, t := range tenants {
		logger.Printf("driver: tenant=%s active=%d queued=%d completed=%d", t.TeamID, t.ActiveJobs, t.QueuedJobs, t.CompletedJobs)
	}

	return 0
}

// tenantSummaries snapshots every tenant's current counts for the report
// and for the live dashboard broadcast — the scheduler owns the underlying
// state, this just reads it.
func tenantSummaries(sched *scheduler.Scheduler) []report.TenantSummary {
	ids := sched.TenantIDs()
	out := make([]report.TenantSummary, 0, len(ids))
	for _, teamID := range ids {
		t := sched.Tenant(teamID)
		if t == nil {
			continue
		}
		out = append(out, report.TenantSummary{
			TeamID:        teamID,
			ActiveJobs:    len(t.ActiveJobs),
			QueuedJobs:    t.QueuedJobs,
			CompletedJobs: t.CompletedJobs,
		})
	}
	return out
}
