// Package queueclient is the typed, metered, oracle-observed wrapper over the
// REST contract of the remote per-tenant concurrency queue.
package queueclient

import "encoding/json"

// Result is the tagged-variant envelope every queueclient operation returns:
// a boolean success flag, optional data, and an optional error string. The
// scheduler never branches on a thrown error — only on this shape.
type Result[T any] struct {
	Success bool
	Data    T
	Error   string
}

// Ok wraps data as a successful Result.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail wraps an error message as a failed Result.
func Fail[T any](msg string) Result[T] {
	var zero T
	return Result[T]{Success: false, Data: zero, Error: msg}
}

// JobPayload is the job body sent on push.
type JobPayload struct {
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data,omitempty"`
	Priority   int             `json:"priority"`
	Listenable bool            `json:"listenable"`
}

// PushRequest is the body of POST /queue/push.
type PushRequest struct {
	TeamID    string     `json:"teamId"`
	Job       JobPayload `json:"job"`
	TimeoutMs int        `json:"timeout"`
	CrawlID   string     `json:"crawlId,omitempty"`
}

// PopRequest is the body of POST /queue/pop/{teamId}.
type PopRequest struct {
	WorkerID        string   `json:"workerId"`
	BlockedCrawlIDs []string `json:"blockedCrawlIds"`
}

// ClaimedJobWire is the `job` field of a successful pop response.
type ClaimedJobWire struct {
	ID        string `json:"id"`
	Priority  int    `json:"priority"`
	CreatedAt int64  `json:"created_at"`
	CrawlID   string `json:"crawl_id,omitempty"`
}

// PopResponse is the body of a pop call; Job is nil when the queue is empty.
type PopResponse struct {
	Job      *ClaimedJobWire `json:"job"`
	QueueKey string          `json:"queueKey"`
}

// CompleteRequest is the body of POST /queue/complete.
type CompleteRequest struct {
	QueueKey string `json:"queueKey"`
}

// CompleteResponse is the body of a complete response.
type CompleteResponse struct {
	Success bool `json:"success"`
}

// ReleaseRequest is the body of POST /queue/release.
type ReleaseRequest struct {
	JobID string `json:"jobId"`
}

// ActivePushRequest is the body of POST /active/push.
type ActivePushRequest struct {
	TeamID    string `json:"teamId"`
	JobID     string `json:"jobId"`
	TimeoutMs int    `json:"timeout"`
}

// ActiveRemoveRequest is the body of DELETE /active/remove.
type ActiveRemoveRequest struct {
	TeamID string `json:"teamId"`
	JobID  string `json:"jobId"`
}

// CountResponse wraps a bare numeric count (active/count, queue/count/team).
type CountResponse struct {
	Count int `json:"count"`
}

// ClaimedJob is the domain-level shape returned by Client.Pop, mirroring
// spec's ClaimedJob: the job plus the opaque queueKey required by complete.
type ClaimedJob struct {
	JobID     string
	Priority  int
	CreatedAt int64
	CrawlID   string
	QueueKey  string
}
