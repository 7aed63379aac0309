package report

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/duskline/crawlforge/internal/metricscollector"
	"github.com/duskline/crawlforge/internal/oracle"
)

func TestBuildOmitsOperationsWithNoSamples(t *testing.T) {
	c := metricscollector.NewCollector(100)
	c.Record(metricscollector.OpPush, 10, true, 200, "", "")

	o := oracle.New(oracle.Options{})
	r := Build("run-1", time.Second, c, o, nil, 0)

	if len(r.Operations) != 1 {
		t.Fatalf("expected exactly 1 operation with samples, got %d", len(r.Operations))
	}
	if r.Operations[0].Operation != metricscollector.OpPush {
		t.Fatalf("expected push operation, got %s", r.Operations[0].Operation)
	}
}

func TestBuildIncludesErrorBreakdownAndRecentErrors(t *testing.T) {
	c := metricscollector.NewCollector(100)
	c.Record(metricscollector.OpPop, 5, false, 500, "internal error", "body")
	c.Record(metricscollector.OpPop, 5, false, 404, "not found", "")

	o := oracle.New(oracle.Options{})
	r := Build("run-2", time.Second, c, o, nil, 3)

	if r.TotalOverflow != 3 {
		t.Fatalf("expected total overflow 3, got %d", r.TotalOverflow)
	}
	if len(r.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(r.Operations))
	}
	op := r.Operations[0]
	if op.TotalErrors != 2 {
		t.Fatalf("expected 2 total errors, got %d", op.TotalErrors)
	}
	if op.ErrorBreakdown[metricscollector.ErrClassHTTP5xx] != 1 || op.ErrorBreakdown[metricscollector.ErrClassHTTP4xx] != 1 {
		t.Fatalf("expected one 4xx and one 5xx, got %+v", op.ErrorBreakdown)
	}
	if len(op.RecentErrors) != 2 {
		t.Fatalf("expected 2 recent errors, got %d", len(op.RecentErrors))
	}
}

func TestBuildIncludesOracleReport(t *testing.T) {
	c := metricscollector.NewCollector(10)
	o := oracle.New(oracle.Options{})
	now := time.Now()
	o.RecordPush("job-1", "team-a", 5, now, "")
	o.ConfirmPush("job-1")

	r := Build("run-3", time.Second, c, o, nil, 0)
	if len(r.Oracle.PushedNeverClaimed) != 1 || r.Oracle.PushedNeverClaimed[0] != "job-1" {
		t.Fatalf("expected job-1 reported pushed-never-claimed, got %+v", r.Oracle.PushedNeverClaimed)
	}
}

func TestPrinterLogOnceSkipsOperationsWithNoSamples(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	c := metricscollector.NewCollector(10)
	c.Record(metricscollector.OpPush, 12.5, true, 200, "", "")

	p := NewPrinter(logger, time.Second, c)
	p.logOnce()

	out := buf.String()
	if !strings.Contains(out, "op=push") {
		t.Fatalf("expected log output to mention op=push, got %q", out)
	}
	if strings.Contains(out, "op=pop") {
		t.Fatalf("expected no log output for an operation with zero samples, got %q", out)
	}
}

func TestPrinterRunStopsOnContextCancel(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	c := metricscollector.NewCollector(10)
	p := NewPrinter(logger, 5*time.Millisecond, c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Printer.Run did not stop after context cancellation")
	}
}
