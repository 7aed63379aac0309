package clock

import (
	"crypto/rand"
	"fmt"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomToken returns n random lowercase-alphanumeric characters, grounded on
// the teacher's crypto/rand-seeded node-id generator.
func RandomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read only fails if the platform's CSPRNG is broken; there
		// is nothing sensible to fall back to, so make the symptom obvious.
		panic(fmt.Sprintf("clock: crypto/rand unavailable: %v", err))
	}
	for i, c := range b {
		b[i] = idAlphabet[int(c)%len(idAlphabet)]
	}
	return string(b)
}

// RunID returns a fresh simulation run identifier: 8 random chars + a
// millisecond timestamp, per the id-composition rule in spec.md §4.5.
func RunID(nowMillis int64) string {
	return fmt.Sprintf("%s-%d", RandomToken(8), nowMillis)
}

// JobID composes a job identifier from the run id, tenant id, and the
// tenant's monotonically increasing per-tenant counter.
func JobID(runID, teamID string, counter int64) string {
	return fmt.Sprintf("%s-%s-job-%d", runID, teamID, counter)
}

// TeamID composes a synthetic tenant identifier for the index'th simulated
// team under a tier, scoped to runID so separate runs never collide.
func TeamID(runID, tierName string, index int) string {
	return fmt.Sprintf("%s-%s-team-%d", runID, tierName, index)
}

// CrawlID deterministically derives a crawl id from the per-tenant job
// counter: floor(counter/10), so ten consecutive jobs from one tenant share a
// crawl id, per spec.md §4.1's generate() rule.
func CrawlID(teamID string, counter int64) string {
	return fmt.Sprintf("%s-crawl-%d", teamID, counter/10)
}

// WorkerID composes a worker identifier for a given run, distinguishing
// ordinary pop workers from flush workers so the Oracle is never confused by
// flush-path pops (spec.md §4.2).
func WorkerID(runID string, ordinal int) string {
	return fmt.Sprintf("%s-worker-%d", runID, ordinal)
}

// FlushWorkerID composes a worker id for the flush path, using a distinct
// prefix per spec.md §4.2 ("Flush pops use a distinct worker id derived by
// prefix to prevent Oracle confusion should it ever be connected").
func FlushWorkerID(runID, teamID string) string {
	return fmt.Sprintf("flush-%s-%s", runID, teamID)
}
