package queueclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/duskline/crawlforge/internal/clock"
	"github.com/duskline/crawlforge/internal/metricscollector"
	"github.com/duskline/crawlforge/internal/oracle"
)

// Doer is satisfied by *http.Client; callers can substitute their own
// instrumented transport (see ratelimit.go, breaker.go) or a fake in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the typed wrapper over the concurrency-queue REST contract.
type Client struct {
	baseURL string
	http    Doer
	clock   clock.Clock
	metrics *metricscollector.Collector
	oracle  *oracle.Oracle
}

// New builds a Client pointed at baseURL. doer may be *http.Client or any
// decorator composed from ratelimit.go/breaker.go around one.
func New(baseURL string, doer Doer, c clock.Clock, metrics *metricscollector.Collector, o *oracle.Oracle) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    doer,
		clock:   c,
		metrics: metrics,
		oracle:  o,
	}
}

// do issues one request, times it, and records exactly one MetricsRecord for
// op per spec. respOut, if non-nil, receives the parsed 2xx JSON body. teamID,
// when non-empty, is carried as a header so Doer decorators (ratelimit.go)
// can key per-tenant state without parsing the request body.
func (c *Client) do(ctx context.Context, op metricscollector.Operation, method, path, teamID string, body any, respOut any) (httpStatus int, responseBody string, err error) {
	start := c.clock.Now()

	var reqBody io.Reader
	if body != nil {
		data, merr := json.Marshal(body)
		if merr != nil {
			c.metrics.Record(op, 0, false, 0, merr.Error(), "")
			return 0, "", merr
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		c.metrics.Record(op, 0, false, 0, err.Error(), "")
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if teamID != "" {
		req.Header.Set("X-Team-Id", teamID)
	}

	resp, err := c.http.Do(req)
	latencyMs := float64(c.clock.Now().Sub(start).Milliseconds())
	if err != nil {
		c.metrics.Record(op, latencyMs, false, 0, err.Error(), "")
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		c.metrics.Record(op, latencyMs, false, resp.StatusCode, msg, string(raw))
		return resp.StatusCode, string(raw), fmt.Errorf("%s", msg)
	}

	if respOut != nil && len(raw) > 0 {
		if uerr := json.Unmarshal(raw, respOut); uerr != nil {
			c.metrics.Record(op, latencyMs, false, resp.StatusCode, uerr.Error(), string(raw))
			return resp.StatusCode, string(raw), uerr
		}
	}

	c.metrics.Record(op, latencyMs, true, resp.StatusCode, "", "")
	return resp.StatusCode, string(raw), nil
}

// Push posts a new job to the remote concurrency queue for teamId. data is
// the job's opaque payload blob (e.g. {"url": "...", "mode": "synthetic"});
// nil omits the job's data field from the request.
func (c *Client) Push(ctx context.Context, teamID, jobID string, priority int, timeoutMs int, crawlID string, data map[string]any, now time.Time) Result[struct{}] {
	c.oracle.RecordPush(jobID, teamID, priority, now, crawlID)

	var rawData json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return Fail[struct{}]("encode job data: " + err.Error())
		}
		rawData = encoded
	}

	req := PushRequest{
		TeamID:    teamID,
		Job:       JobPayload{ID: jobID, Data: rawData, Priority: priority, Listenable: true},
		TimeoutMs: timeoutMs,
		CrawlID:   crawlID,
	}
	_, _, err := c.do(ctx, metricscollector.OpPush, http.MethodPost, "/queue/push", teamID, req, nil)
	if err != nil {
		return Fail[struct{}](err.Error())
	}
	c.oracle.ConfirmPush(jobID)
	return Ok(struct{}{})
}

// Pop claims the highest-priority job in teamId's remote queue, if any.
func (c *Client) Pop(ctx context.Context, teamID, workerID string, blockedCrawlIDs []string, now time.Time) Result[*ClaimedJob] {
	req := PopRequest{WorkerID: workerID, BlockedCrawlIDs: blockedCrawlIDs}
	var resp PopResponse
	_, _, err := c.do(ctx, metricscollector.OpPop, http.MethodPost, "/queue/pop/"+teamID, teamID, req, &resp)
	if err != nil {
		return Fail[*ClaimedJob](err.Error())
	}
	if resp.Job == nil {
		return Ok[*ClaimedJob](nil)
	}
	claimed := &ClaimedJob{
		JobID:     resp.Job.ID,
		Priority:  resp.Job.Priority,
		CreatedAt: resp.Job.CreatedAt,
		CrawlID:   resp.Job.CrawlID,
		QueueKey:  resp.QueueKey,
	}
	c.oracle.RecordClaim(claimed.JobID, teamID, claimed.Priority, now, claimed.CrawlID)
	return Ok(claimed)
}

// Complete acknowledges a claimed job by its opaque queueKey.
func (c *Client) Complete(ctx context.Context, queueKey string) Result[bool] {
	req := CompleteRequest{QueueKey: queueKey}
	var resp CompleteResponse
	_, _, err := c.do(ctx, metricscollector.OpComplete, http.MethodPost, "/queue/complete", "", req, &resp)
	if err != nil {
		return Fail[bool](err.Error())
	}
	return Ok(resp.Success)
}

// Release marks a job as poison/abandoned on the remote queue. This is the
// poison-job extension spec §7 allows implementers to add on persistent 4xx.
func (c *Client) Release(ctx context.Context, jobID string) Result[struct{}] {
	req := ReleaseRequest{JobID: jobID}
	_, _, err := c.do(ctx, metricscollector.OpRelease, http.MethodPost, "/queue/release", "", req, nil)
	if err != nil {
		return Fail[struct{}](err.Error())
	}
	return Ok(struct{}{})
}

// ReleasePoison releases jobID via Release, logging nothing to the Oracle
// (the job is being abandoned, not claimed). It keeps no failure count and
// has no threshold: the caller decides when a job counts as poison.
func (c *Client) ReleasePoison(ctx context.Context, jobID string) Result[struct{}] {
	return c.Release(ctx, jobID)
}

// ActivePush advises the remote service that jobID started, for monitoring
// purposes only (spec §9's Open Question: never reconciled back).
func (c *Client) ActivePush(ctx context.Context, teamID, jobID string, timeoutMs int) Result[struct{}] {
	req := ActivePushRequest{TeamID: teamID, JobID: jobID, TimeoutMs: timeoutMs}
	_, _, err := c.do(ctx, metricscollector.OpActivePush, http.MethodPost, "/active/push", teamID, req, nil)
	if err != nil {
		return Fail[struct{}](err.Error())
	}
	return Ok(struct{}{})
}

// ActiveRemove advises the remote service that jobID is no longer active.
func (c *Client) ActiveRemove(ctx context.Context, teamID, jobID string) Result[struct{}] {
	req := ActiveRemoveRequest{TeamID: teamID, JobID: jobID}
	_, _, err := c.do(ctx, metricscollector.OpActiveRemove, http.MethodDelete, "/active/remove", teamID, req, nil)
	if err != nil {
		return Fail[struct{}](err.Error())
	}
	return Ok(struct{}{})
}

// ActiveCount returns the remote-tracked active job count for teamId.
func (c *Client) ActiveCount(ctx context.Context, teamID string) Result[int] {
	var resp CountResponse
	_, _, err := c.do(ctx, metricscollector.OpActiveCount, http.MethodGet, "/active/count/"+teamID, teamID, nil, &resp)
	if err != nil {
		return Fail[int](err.Error())
	}
	return Ok(resp.Count)
}

// ActiveJobIDs lists the remote-tracked active job ids for teamId.
func (c *Client) ActiveJobIDs(ctx context.Context, teamID string) Result[[]string] {
	var ids []string
	_, _, err := c.do(ctx, metricscollector.OpActiveCount, http.MethodGet, "/active/jobs/"+teamID, teamID, nil, &ids)
	if err != nil {
		return Fail[[]string](err.Error())
	}
	return Ok(ids)
}

// TeamQueueCount returns the number of jobs queued remotely for teamId.
func (c *Client) TeamQueueCount(ctx context.Context, teamID string) Result[int] {
	var resp CountResponse
	_, _, err := c.do(ctx, metricscollector.OpTeamQueueCount, http.MethodGet, "/queue/count/team/"+teamID, teamID, nil, &resp)
	if err != nil {
		return Fail[int](err.Error())
	}
	return Ok(resp.Count)
}

// Health reports whether the remote service answers 2xx on /health.
func (c *Client) Health(ctx context.Context) Result[struct{}] {
	_, _, err := c.do(ctx, metricscollector.OpHealth, http.MethodGet, "/health", "", nil, nil)
	if err != nil {
		return Fail[struct{}](err.Error())
	}
	return Ok(struct{}{})
}

// flushPopTimeout and flushActiveTimeout bound the two phases of Flush, per §5's
// "flush path uses an explicit 10s/5s timeout".
const (
	flushPopTimeout    = 10 * time.Second
	flushActiveTimeout = 5 * time.Second
)

// Flush drains teamId's remote queue and active-job tracking without
// touching metrics or the Oracle, per §4.2. It pops repeatedly until three
// consecutive empty results, then lists and deletes every active id. workerID
// should come from clock.FlushWorkerID so the Oracle, if ever connected,
// cannot mistake a flush pop for an ordinary claim.
func (c *Client) Flush(ctx context.Context, teamID, workerID string) error {
	popCtx, cancel := context.WithTimeout(ctx, flushPopTimeout)
	defer cancel()

	consecutiveEmpty := 0
	for consecutiveEmpty < 3 {
		var resp PopResponse
		req := PopRequest{WorkerID: workerID, BlockedCrawlIDs: nil}
		_, _, err := c.doQuiet(popCtx, http.MethodPost, "/queue/pop/"+teamID, req, &resp)
		if err != nil {
			return err
		}
		if resp.Job == nil {
			consecutiveEmpty++
			continue
		}
		consecutiveEmpty = 0
		if _, _, err := c.doQuiet(popCtx, http.MethodPost, "/queue/complete", CompleteRequest{QueueKey: resp.QueueKey}, nil); err != nil {
			return err
		}
	}

	activeCtx, cancel2 := context.WithTimeout(ctx, flushActiveTimeout)
	defer cancel2()

	var ids []string
	if _, _, err := c.doQuiet(activeCtx, http.MethodGet, "/active/jobs/"+teamID, nil, &ids); err != nil {
		return err
	}
	for _, id := range ids {
		if _, _, err := c.doQuiet(activeCtx, http.MethodDelete, "/active/remove", ActiveRemoveRequest{TeamID: teamID, JobID: id}, nil); err != nil {
			return err
		}
	}
	return nil
}

// doQuiet is do without metrics/Oracle side effects, for the flush path.
func (c *Client) doQuiet(ctx context.Context, method, path string, body any, respOut any) (int, string, error) {
	var reqBody io.Reader
	if body != nil {
		data, merr := json.Marshal(body)
		if merr != nil {
			return 0, "", merr
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, string(raw), fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if respOut != nil && len(raw) > 0 {
		if uerr := json.Unmarshal(raw, respOut); uerr != nil {
			return resp.StatusCode, string(raw), uerr
		}
	}
	return resp.StatusCode, string(raw), nil
}
