package vectorindex

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/parley/internal/observability"
)

// LiveChecker reports which of the given chunk IDs still belong to a
// live (not deleted) document.
type LiveChecker interface {
	LiveChunks(ctx context.Context, chunkIDs []string) (map[string]bool, error)
}

// Janitor periodically removes index entries whose chunks no longer
// exist, covering the window between a document deletion and a crash.
type Janitor struct {
	index   Index
	live    LiveChecker
	logger  *observability.Logger
	metrics *observability.Metrics
	cron    *cron.Cron
}

// NewJanitor creates a janitor sweeping on the given cron schedule
// (e.g. "@every 10m").
func NewJanitor(index Index, live LiveChecker, schedule string,
	logger *observability.Logger, metrics *observability.Metrics) (*Janitor, error) {

	if logger == nil {
		logger = observability.NopLogger()
	}
	j := &Janitor{
		index:   index,
		live:    live,
		logger:  logger,
		metrics: metrics,
		cron:    cron.New(),
	}
	_, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Error(ctx, "vector index sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Start begins scheduled sweeps.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() { <-j.cron.Stop().Done() }

// Sweep removes orphaned entries once and returns how many chunks were
// purged.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	refs, err := j.index.ChunkRefs(ctx)
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	alive, err := j.live.LiveChunks(ctx, refs)
	if err != nil {
		return 0, err
	}
	var dead []string
	for _, id := range refs {
		if !alive[id] {
			dead = append(dead, id)
		}
	}
	if len(dead) > 0 {
		if err := j.index.Delete(ctx, dead); err != nil {
			return 0, err
		}
		j.logger.Info(ctx, "purged orphaned embeddings", "chunks", len(dead))
	}

	if j.metrics != nil {
		if size, err := j.index.Size(ctx); err == nil {
			j.metrics.VectorIndexSize.Set(float64(size))
		}
	}
	return len(dead), nil
}
