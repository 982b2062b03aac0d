package audit

import (
	"context"
	"time"

	"github.com/invitegen/edgegate/internal/metrics"
	"github.com/invitegen/edgegate/pkg/logger"
)

// RejectionRepository persists rejection counts.
type RejectionRepository interface {
	IncrementRejections(ctx context.Context, bucket time.Time, counts map[Key]int64) error
}

// RepositoryFlusher implements Flusher using a repository.
type RepositoryFlusher struct {
	repo RejectionRepository
	log  *logger.Logger
}

// NewRepositoryFlusher creates a new RepositoryFlusher.
func NewRepositoryFlusher(repo RejectionRepository, log *logger.Logger) *RepositoryFlusher {
	return &RepositoryFlusher{
		repo: repo,
		log:  log,
	}
}

// FlushRejections persists counts to the repository.
func (f *RepositoryFlusher) FlushRejections(ctx context.Context, bucket time.Time, counts map[Key]int64) error {
	if len(counts) == 0 {
		return nil
	}

	total := int64(0)
	for _, c := range counts {
		total += c
	}

	if err := f.repo.IncrementRejections(ctx, bucket, counts); err != nil {
		if f.log != nil {
			f.log.Error("failed to flush rejection counts", "error", err, "keys", len(counts), "total", total)
		}
		return err
	}

	metrics.RecordAuditFlushed(total)
	if f.log != nil {
		f.log.Debug("flushed rejection counts", "bucket", bucket.Format(time.RFC3339), "keys", len(counts), "total", total)
	}

	return nil
}

// LogFlusher writes counts to the log. It is used when no database is
// configured.
type LogFlusher struct {
	log *logger.Logger
}

// NewLogFlusher creates a LogFlusher.
func NewLogFlusher(log *logger.Logger) *LogFlusher {
	return &LogFlusher{log: log}
}

// FlushRejections logs one line per key.
func (f *LogFlusher) FlushRejections(_ context.Context, bucket time.Time, counts map[Key]int64) error {
	var total int64
	for k, c := range counts {
		total += c
		f.log.Info("admission rejections",
			"bucket", bucket.Format(time.RFC3339),
			"kind", string(k.Kind),
			"policy", k.Policy,
			"count", c,
		)
	}
	metrics.RecordAuditFlushed(total)
	return nil
}
