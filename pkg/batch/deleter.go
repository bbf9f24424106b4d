// Package batch deletes many remote items at once, preferring a single bulk
// request and falling back to paced single-item deletes.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/illmade-knight/go-syncstore/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Remote deletes a single item.
type Remote interface {
	Delete(ctx context.Context, id string) error
}

// BulkRemote is implemented by remotes that can delete several items in one
// request. The returned outcome must classify every id; an error means the
// request itself failed.
type BulkRemote interface {
	SupportsBulk() bool
	BulkDelete(ctx context.Context, ids []string) (types.BatchOutcome, error)
}

// Config holds the configuration for a Deleter.
type Config struct {
	// ChunkSize is used when Run is given a non-positive chunk size.
	ChunkSize int
	// ItemDelay paces single-item deletes within a chunk. Zero disables pacing.
	ItemDelay time.Duration
}

// Progress is reported after every single-item delete.
type Progress struct {
	Completed int
	Total     int
	CurrentID string
	Err       error
}

// Hooks are optional callbacks for one Run. OnSuccess and OnFailure are each
// called exactly once when the run ends, with empty slices when nothing
// succeeded or failed.
type Hooks struct {
	OnProgress func(Progress)
	OnSuccess  func(ids []string)
	OnFailure  func(ids []string, failures map[string]string)
}

// Deleter runs batch deletions against one remote.
type Deleter struct {
	cfg    Config
	remote Remote
	logger zerolog.Logger
}

// NewDeleter creates a Deleter. If remote also implements BulkRemote the bulk
// path is used for batches that fit in one chunk.
func NewDeleter(cfg Config, remote Remote, logger zerolog.Logger) (*Deleter, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote cannot be nil")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = 0
	}
	return &Deleter{
		cfg:    cfg,
		remote: remote,
		logger: logger.With().Str("component", "BatchDeleter").Logger(),
	}, nil
}

// Run deletes ids and returns an outcome that classifies every distinct id
// exactly once. Repeated ids are processed once.
//
// When the batch fits in one chunk and the remote supports it, one bulk
// request is tried first; if that request fails every id is retried one by
// one. If ctx ends part way, the ids not yet attempted are failed with the
// context's error.
func (d *Deleter) Run(ctx context.Context, ids []string, chunkSize int, hooks Hooks) types.BatchOutcome {
	if chunkSize <= 0 {
		chunkSize = d.cfg.ChunkSize
	}
	unique := dedupe(ids)
	log := d.logger.With().Int("total", len(unique)).Int("chunk_size", chunkSize).Logger()

	var outcome types.BatchOutcome
	bulked := false
	if bulk, ok := d.remote.(BulkRemote); ok && len(unique) > 0 && len(unique) <= chunkSize && bulk.SupportsBulk() {
		outcome, bulked = d.runBulk(ctx, bulk, unique, log)
	}
	if !bulked {
		outcome = d.runChunked(ctx, unique, chunkSize, hooks.OnProgress, log)
	}

	log.Info().
		Bool("bulk", outcome.UsedBulk).
		Int("succeeded", len(outcome.SucceededIDs)).
		Int("failed", len(outcome.FailedIDs)).
		Msg("Batch delete finished.")

	if hooks.OnSuccess != nil {
		hooks.OnSuccess(outcome.SucceededIDs)
	}
	if hooks.OnFailure != nil {
		hooks.OnFailure(outcome.FailedIDs, outcome.Failures)
	}
	return outcome
}

func (d *Deleter) runBulk(ctx context.Context, bulk BulkRemote, ids []string, log zerolog.Logger) (types.BatchOutcome, bool) {
	outcome, err := bulk.BulkDelete(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Msg("Bulk delete failed, falling back to single deletes.")
		return types.BatchOutcome{}, false
	}
	if !outcome.Done() {
		log.Warn().Int("completed", outcome.Completed).Msg("Bulk delete outcome is incomplete, falling back to single deletes.")
		return types.BatchOutcome{}, false
	}
	for _, id := range outcome.FailedIDs {
		if outcome.Failures[id] == types.NoStatusMessage {
			log.Warn().Str("id", id).Msg("Bulk delete returned no status for id, counting it as failed.")
		}
	}
	return outcome, true
}

func (d *Deleter) runChunked(ctx context.Context, ids []string, chunkSize int, onProgress func(Progress), log zerolog.Logger) types.BatchOutcome {
	outcome := types.NewBatchOutcome(len(ids))

	for start := 0; start < len(ids); start += chunkSize {
		chunk := ids[start:min(start+chunkSize, len(ids))]
		var limiter *rate.Limiter
		if d.cfg.ItemDelay > 0 && len(chunk) > 1 {
			limiter = rate.NewLimiter(rate.Every(d.cfg.ItemDelay), 1)
		}

		for i, id := range chunk {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					d.abandon(&outcome, ids[start+i:], err, log)
					return outcome
				}
			}
			if err := ctx.Err(); err != nil {
				d.abandon(&outcome, ids[start+i:], err, log)
				return outcome
			}

			err := d.remote.Delete(ctx, id)
			if err != nil {
				outcome.Fail(id, types.UserMessage(err))
				log.Error().Err(err).Str("id", id).Msg("Delete failed.")
			} else {
				outcome.Succeed(id)
			}
			if onProgress != nil {
				onProgress(Progress{Completed: outcome.Completed, Total: outcome.Total, CurrentID: id, Err: err})
			}
		}
	}
	return outcome
}

// abandon fails every id that was not attempted.
func (d *Deleter) abandon(outcome *types.BatchOutcome, rest []string, err error, log zerolog.Logger) {
	log.Warn().Err(err).Int("remaining", len(rest)).Msg("Batch delete cancelled, remaining ids counted as failed.")
	for _, id := range rest {
		outcome.Fail(id, err.Error())
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
