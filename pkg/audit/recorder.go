// Package audit records connection activity to the structured security log
// and to the durable audit table. Recording is best effort: a failed audit
// write never fails the operation that triggered it.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/logging"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
	"github.com/relayforge-ai/relayforge-engine/pkg/repositories"
)

// Recorder accepts audit entries for connection operations.
type Recorder interface {
	// Record writes an audit entry. Errors are swallowed after logging.
	Record(ctx context.Context, entry *models.ConnectionLog)

	// PruneOlderThan removes audit rows past the retention window.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type recorder struct {
	logs   repositories.ConnectionLogRepository
	logger *zap.Logger
}

// NewRecorder creates an audit recorder. The structured stream is emitted
// under the "security_audit" logger name so it can be routed separately.
func NewRecorder(logs repositories.ConnectionLogRepository, logger *zap.Logger) Recorder {
	return &recorder{
		logs:   logs,
		logger: logger.Named("security_audit"),
	}
}

func (r *recorder) Record(ctx context.Context, entry *models.ConnectionLog) {
	// Error details may carry credential material from provider responses.
	entry.Error = logging.SanitizeDetail(entry.Error)

	fields := []zap.Field{
		zap.String("connection_id", entry.ConnectionID.String()),
		zap.String("user_id", entry.UserID.String()),
		zap.String("action", entry.Action),
		zap.Bool("success", entry.Success),
	}
	if entry.Error != "" {
		fields = append(fields, zap.String("error", entry.Error))
	}
	if len(entry.Context) > 0 {
		fields = append(fields, zap.Any("context", entry.Context))
	}
	r.logger.Info("connection activity", fields...)

	if err := r.logs.Insert(ctx, entry); err != nil {
		r.logger.Warn("failed to persist audit entry",
			zap.String("connection_id", entry.ConnectionID.String()),
			zap.String("action", entry.Action),
			zap.Error(err))
	}
}

func (r *recorder) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	removed, err := r.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.logger.Info("pruned audit rows",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

var _ Recorder = (*recorder)(nil)
