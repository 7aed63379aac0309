// Package report assembles the live progress print and the end-of-run
// report spec.md §7 requires from a Collector and an Oracle, plus the
// scenario-level counts spec.md §8 checks (completions, overflow pushes,
// violations). It also carries two optional sinks for that same data: a
// Postgres archive and a websocket dashboard broadcast.
package report

import (
	"time"

	"github.com/duskline/crawlforge/internal/metricscollector"
	"github.com/duskline/crawlforge/internal/oracle"
)

// OperationSummary is one operation's Stats plus its error breakdown and
// recent errors, flattened for printing/serialization.
type OperationSummary struct {
	Operation     metricscollector.Operation          `json:"operation"`
	Stats         metricscollector.Stats              `json:"stats"`
	TotalErrors   int                                 `json:"totalErrors"`
	ErrorBreakdown map[metricscollector.ErrorClass]int `json:"errorBreakdown"`
	RecentErrors  []metricscollector.Record           `json:"recentErrors"`
}

// TenantSummary is the per-tenant scenario-level counts spec.md §8's
// end-to-end scenarios check (active, queued, completions). Overflow pushes
// are counted run-wide in FinalReport.TotalOverflow, not per tenant.
type TenantSummary struct {
	TeamID        string `json:"teamId"`
	ActiveJobs    int    `json:"activeJobs"`
	QueuedJobs    int    `json:"queuedJobs"`
	CompletedJobs int64  `json:"completedJobs"`
}

// FinalReport is the end-of-run report: metrics per operation, the Oracle's
// end-of-test verification, and per-tenant completion counts.
type FinalReport struct {
	RunID        string              `json:"runId"`
	GeneratedAt  time.Time           `json:"generatedAt"`
	Duration     time.Duration       `json:"duration"`
	Operations   []OperationSummary  `json:"operations"`
	Oracle       oracle.Report       `json:"oracle"`
	Tenants      []TenantSummary     `json:"tenants"`
	TotalOverflow int                `json:"totalOverflowPushes"`
}

// Build assembles a FinalReport from the live collector/oracle state plus
// caller-supplied scenario counts (the scheduler owns tenant state; report
// stays a pure read-only view over it).
func Build(runID string, duration time.Duration, collector *metricscollector.Collector, o *oracle.Oracle, tenants []TenantSummary, totalOverflow int) FinalReport {
	ops := make([]OperationSummary, 0, len(metricscollector.AllOperations))
	for _, op := range metricscollector.AllOperations {
		stats := collector.Stats(op)
		if stats.TotalRequests == 0 {
			continue
		}
		ops = append(ops, OperationSummary{
			Operation:      op,
			Stats:          stats,
			TotalErrors:    collector.TotalErrors(op),
			ErrorBreakdown: collector.ErrorBreakdown(op),
			RecentErrors:   collector.RecentErrors(op, 10),
		})
	}

	return FinalReport{
		RunID:         runID,
		GeneratedAt:   time.Now(),
		Duration:      duration,
		Operations:    ops,
		Oracle:        o.RunEndOfTestVerification(),
		Tenants:       tenants,
		TotalOverflow: totalOverflow,
	}
}
