package queueservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// priorityScoreShift packs (priority, sequence) into a single float64 sorted-set
// score: priority occupies the high bits, the insertion sequence the low
// bits, so ZRANGE order is priority-ascending with earliest-insertion-wins on
// a tie, matching the in-process main queue's selection rule.
const priorityScoreShift = 1 << 20

func score(priority int, seq uint64) float64 {
	return float64(priority)*priorityScoreShift + float64(seq%priorityScoreShift)
}

// jobPayload is the JSON blob stored alongside the sorted-set member so a pop
// can recover everything the caller needs without a second round trip beyond
// the script itself.
type jobPayload struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"data"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
	CrawlID   string    `json:"crawlId"`
}

const pushScript = `
local queueKey = KEYS[1]
local jobKey = KEYS[2]
local ownerKey = KEYS[3]
redis.call("SET", jobKey, ARGV[1])
redis.call("ZADD", queueKey, ARGV[2], ARGV[3])
redis.call("HSET", ownerKey, ARGV[3], ARGV[4])
return 1
`

// popScript skips past any sorted-set member whose payload has already been
// removed by a release (an orphaned member left behind because release
// doesn't always know which queue holds its job) instead of returning a
// tombstoned result to the caller.
const popScript = `
local queueKey = KEYS[1]
local ownerKey = KEYS[2]
local jobPrefix = ARGV[1]
while true do
	local popped = redis.call("ZPOPMIN", queueKey, 1)
	if #popped == 0 then
		return nil
	end
	local member = popped[1]
	local jobKey = jobPrefix .. member
	local payload = redis.call("GET", jobKey)
	if payload then
		redis.call("DEL", jobKey)
		redis.call("HDEL", ownerKey, member)
		return payload
	end
end
`

const releaseScript = `
local queueKey = KEYS[1]
local jobKey = KEYS[2]
local ownerKey = KEYS[3]
local member = ARGV[1]
redis.call("ZREM", queueKey, member)
redis.call("DEL", jobKey)
redis.call("HDEL", ownerKey, member)
return 1
`

// RedisStore implements Store using Redis sorted sets for per-tenant queues
// and Redis sets for active-job tracking. Atomicity across the
// score-set-plus-payload-write pair (push) and pop-plus-fetch-plus-delete
// triple (pop) is achieved by preloading these as Lua scripts and invoking
// them by SHA, the same pattern the reconciliation store uses for its
// versioned-set/get pair: load once at construction to avoid shipping script
// text on every call, then EVALSHA thereafter.
type RedisStore struct {
	client *redis.Client

	pushSHA    string
	popSHA     string
	releaseSHA string

	mu      sync.Mutex
	nextSeq uint64

	shuttingDown atomic.Bool
	stopKeepAlive chan struct{}
}

func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queueservice: redis ping failed: %w", err)
	}

	pushSHA, err := client.ScriptLoad(ctx, pushScript).Result()
	if err != nil {
		return nil, fmt.Errorf("queueservice: failed to preload push script: %w", err)
	}
	popSHA, err := client.ScriptLoad(ctx, popScript).Result()
	if err != nil {
		return nil, fmt.Errorf("queueservice: failed to preload pop script: %w", err)
	}
	releaseSHA, err := client.ScriptLoad(ctx, releaseScript).Result()
	if err != nil {
		return nil, fmt.Errorf("queueservice: failed to preload release script: %w", err)
	}

	s := &RedisStore{
		client:        client,
		pushSHA:       pushSHA,
		popSHA:        popSHA,
		releaseSHA:    releaseSHA,
		stopKeepAlive: make(chan struct{}),
	}
	go s.keepAlive()
	return s, nil
}

func queueKeyFor(teamID string) string  { return fmt.Sprintf("crawlforge:queue:{%s}", teamID) }
func activeKeyFor(teamID string) string { return fmt.Sprintf("crawlforge:active:{%s}", teamID) }
func jobKeyPrefix() string              { return "crawlforge:job:" }

const ownerKey = "crawlforge:job:owner"

// keepAlive pings the connection on an interval and, on failure, backs off
// exponentially (doubling, capped at 30s) before trying again; a Close()
// call sets the shutdown flag first so no reconnect attempt is made once the
// store is being torn down, mirroring the leader-election loop's
// shutdown-suppresses-reconnect contract.
func (s *RedisStore) keepAlive() {
	const floor = 1 * time.Second
	const cap_ = 30 * time.Second
	interval := floor

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-s.stopKeepAlive:
			return
		case <-timer.C:
			if s.shuttingDown.Load() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := s.client.Ping(ctx).Err()
			cancel()
			if err != nil {
				interval *= 2
				if interval > cap_ {
					interval = cap_
				}
				log.Printf("queueservice: redis ping failed, backing off %v: %v", interval, err)
			} else {
				interval = floor
			}
			timer.Reset(interval)
		}
	}
}

func (s *RedisStore) nextSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	return s.nextSeq
}

func (s *RedisStore) Push(ctx context.Context, teamID string, job StoredJob) error {
	seq := s.nextSequence()
	payload, err := json.Marshal(jobPayload{
		ID: job.ID, Data: job.Data, Priority: job.Priority,
		CreatedAt: job.CreatedAt, CrawlID: job.CrawlID,
	})
	if err != nil {
		return fmt.Errorf("queueservice: marshal job payload: %w", err)
	}
	keys := []string{queueKeyFor(teamID), jobKeyPrefix() + job.ID, ownerKey}
	args := []any{string(payload), score(job.Priority, seq), job.ID, teamID}
	return s.client.EvalSha(ctx, s.pushSHA, keys, args...).Err()
}

func (s *RedisStore) Pop(ctx context.Context, teamID string) (StoredJob, error) {
	res, err := s.client.EvalSha(ctx, s.popSHA, []string{queueKeyFor(teamID), ownerKey}, jobKeyPrefix()).Result()
	if errors.Is(err, redis.Nil) {
		return StoredJob{}, ErrEmpty
	}
	if err != nil {
		return StoredJob{}, err
	}
	if res == nil {
		return StoredJob{}, ErrEmpty
	}
	raw, ok := res.(string)
	if !ok {
		return StoredJob{}, fmt.Errorf("queueservice: unexpected pop script return type %T", res)
	}
	var p jobPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return StoredJob{}, fmt.Errorf("queueservice: unmarshal job payload: %w", err)
	}
	return StoredJob{ID: p.ID, Data: p.Data, Priority: p.Priority, CreatedAt: p.CreatedAt, CrawlID: p.CrawlID}, nil
}

func (s *RedisStore) Release(ctx context.Context, jobID string) error {
	teamID, err := s.client.HGet(ctx, ownerKey, jobID).Result()
	if errors.Is(err, redis.Nil) {
		return nil // already released, completed, or never existed
	}
	if err != nil {
		return err
	}
	keys := []string{queueKeyFor(teamID), jobKeyPrefix() + jobID, ownerKey}
	return s.client.EvalSha(ctx, s.releaseSHA, keys, jobID).Err()
}

func (s *RedisStore) Count(ctx context.Context, teamID string) (int, error) {
	n, err := s.client.ZCard(ctx, queueKeyFor(teamID)).Result()
	return int(n), err
}

func (s *RedisStore) ActivePush(ctx context.Context, teamID, jobID string) error {
	return s.client.SAdd(ctx, activeKeyFor(teamID), jobID).Err()
}

func (s *RedisStore) ActiveRemove(ctx context.Context, teamID, jobID string) error {
	return s.client.SRem(ctx, activeKeyFor(teamID), jobID).Err()
}

func (s *RedisStore) ActiveCount(ctx context.Context, teamID string) (int, error) {
	n, err := s.client.SCard(ctx, activeKeyFor(teamID)).Result()
	return int(n), err
}

func (s *RedisStore) ActiveJobIDs(ctx context.Context, teamID string) ([]string, error) {
	return s.client.SMembers(ctx, activeKeyFor(teamID)).Result()
}

func (s *RedisStore) Healthy(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	s.shuttingDown.Store(true)
	close(s.stopKeepAlive)
	return s.client.Close()
}
