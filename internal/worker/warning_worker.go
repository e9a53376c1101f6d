package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/repository"
)

const (
	WarningBatchSize    = 50
	WarningBatchTimeout = 2 * time.Second
	WarningPollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// WarningWorker drains the integrity-warning queue into Postgres. Warnings
// are pushed to Redis the moment they are recorded so a crashed session
// never loses its evidence trail.
type WarningWorker struct {
	warnings *repository.WarningRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

func NewWarningWorker(warnings *repository.WarningRepository, rdb *redis.Client, log zerolog.Logger) *WarningWorker {
	return &WarningWorker{
		warnings: warnings,
		rdb:      rdb,
		log:      log.With().Str("component", "warning_worker").Logger(),
	}
}

func (w *WarningWorker) Start(ctx context.Context) {
	w.log.Info().Msg("WarningWorker started")

	buffer := make([]repository.WarningRecord, 0, WarningBatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 &&
			(len(buffer) >= WarningBatchSize || time.Since(lastFlush) >= WarningBatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, WarningPollTimeout, config.WorkerKey.PersistWarningsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check flush timer
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var record repository.WarningRecord
		if err := json.Unmarshal([]byte(result[1]), &record); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed warning payload")
			continue
		}

		buffer = append(buffer, record)
	}
}

// flushSafe attempts bulk insert, then row-by-row fallback, then requeue.
func (w *WarningWorker) flushSafe(ctx context.Context, batch []repository.WarningRecord) {
	if err := w.warnings.BulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *WarningWorker) fallbackInsert(ctx context.Context, batch []repository.WarningRecord) {
	requeueList := make([]repository.WarningRecord, 0)

	for _, record := range batch {
		if err := w.warnings.InsertOne(ctx, record); err != nil {
			w.log.Error().Err(err).Int("student_id", record.StudentID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, record)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *WarningWorker) requeue(ctx context.Context, items []repository.WarningRecord) {
	pipe := w.rdb.Pipeline()
	for _, record := range items {
		data, _ := json.Marshal(record)
		pipe.RPush(ctx, config.WorkerKey.PersistWarningsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue warnings to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed warnings back to Redis")
	// Avoid thrashing while the database is down hard.
	time.Sleep(2 * time.Second)
}

func (w *WarningWorker) shutdown(buffer []repository.WarningRecord) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
