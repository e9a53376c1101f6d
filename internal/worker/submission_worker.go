package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
)

const (
	SubmissionBatchSize    = 50
	SubmissionBatchTimeout = 2 * time.Second
	SubmissionPollTimeout  = 1 * time.Second
)

// SubmissionWorker drains the finished-submission queue into Postgres.
// Upserts are idempotent per (exam, student), so a redelivered submission is
// harmless.
type SubmissionWorker struct {
	submissions *repository.SubmissionRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

func NewSubmissionWorker(submissions *repository.SubmissionRepository, rdb *redis.Client, log zerolog.Logger) *SubmissionWorker {
	return &SubmissionWorker{
		submissions: submissions,
		rdb:         rdb,
		log:         log.With().Str("component", "submission_worker").Logger(),
	}
}

func (w *SubmissionWorker) Start(ctx context.Context) {
	w.log.Info().Msg("SubmissionWorker started")

	batch := make([]*model.Submission, 0, SubmissionBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= SubmissionBatchSize || time.Since(lastFlush) >= SubmissionBatchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, SubmissionPollTimeout, config.WorkerKey.PersistSubmissionsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var sub model.Submission
			if err := json.Unmarshal([]byte(item[1]), &sub); err != nil {
				w.log.Error().Err(err).Msg("Invalid submission payload")
				continue
			}

			batch = append(batch, &sub)
		}
	}
}

func (w *SubmissionWorker) flushSafe(ctx context.Context, batch []*model.Submission) {
	if len(batch) == 0 {
		return
	}

	persisted := make([]*model.Submission, 0, len(batch))
	for _, sub := range batch {
		if err := w.submissions.Upsert(ctx, sub); err != nil {
			w.log.Error().Err(err).
				Stringer("exam_id", sub.ExamID).
				Int("student_id", sub.StudentID).
				Msg("Submission upsert failed, requeueing")
			raw, _ := json.Marshal(sub)
			w.rdb.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, raw)
			continue
		}
		persisted = append(persisted, sub)
	}

	// Live answer mirrors are only needed for crash recovery; drop them
	// once the submission row is durable.
	w.clearAnswerMirrors(ctx, persisted)
}

func (w *SubmissionWorker) clearAnswerMirrors(ctx context.Context, batch []*model.Submission) {
	if len(batch) == 0 {
		return
	}
	pipe := w.rdb.Pipeline()
	for _, sub := range batch {
		pipe.Del(ctx, config.CacheKey.StudentAnswersKey(sub.ExamID.String(), sub.StudentID))
	}
	_, _ = pipe.Exec(ctx)
}
