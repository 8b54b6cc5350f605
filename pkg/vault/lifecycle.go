package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relayforge-ai/relayforge-engine/pkg/apperrors"
	"github.com/relayforge-ai/relayforge-engine/pkg/credcache"
	"github.com/relayforge-ai/relayforge-engine/pkg/models"
	"github.com/relayforge-ai/relayforge-engine/pkg/probe"
)

func (s *connectionService) Test(ctx context.Context, userID, id uuid.UUID, origin string) (probe.Result, error) {
	conn, blob, err := s.connections.GetByID(ctx, userID, id)
	if err != nil {
		return probe.Result{}, err
	}
	if conn.Status == models.StatusRevoked {
		s.monitor.ObserveRevokedUsage(ctx, userID, id, origin)
		return probe.Result{}, fmt.Errorf("%w: connection is revoked", apperrors.ErrConnectionNotUsable)
	}

	fields, err := s.cipher.Decrypt(blob)
	if err != nil {
		return probe.Result{}, fmt.Errorf("%w: %v", apperrors.ErrCredentialsKeyMismatch, err)
	}

	return s.runProbe(ctx, userID, conn, fields, origin), nil
}

func (s *connectionService) Revoke(ctx context.Context, userID, id uuid.UUID, origin string) error {
	conn, _, err := s.connections.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}
	// Revocation is idempotent; repeating it is not an error.
	if conn.Status == models.StatusRevoked {
		return nil
	}

	if err := s.connections.SetStatus(ctx, id, models.StatusRevoked); err != nil {
		return err
	}
	// Invalidate after the status write so a concurrent populate re-reads the
	// revoked row and refuses to serve.
	s.cache.Invalidate(id)

	s.recorder.Record(ctx, &models.ConnectionLog{
		ConnectionID: id,
		UserID:       userID,
		Action:       models.ActionRevoked,
		Success:      true,
	})
	s.monitor.ObserveRevoked(ctx, userID, id, origin)

	return nil
}

func (s *connectionService) Suspend(ctx context.Context, userID, connectionID uuid.UUID, reason string) error {
	conn, _, err := s.connections.GetByID(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	switch conn.Status {
	case models.StatusRevoked:
		// Nothing left to protect.
		return nil
	case models.StatusSuspended:
		return nil
	}

	if err := s.connections.SetStatus(ctx, connectionID, models.StatusSuspended); err != nil {
		return err
	}
	s.cache.Invalidate(connectionID)

	s.recorder.Record(ctx, &models.ConnectionLog{
		ConnectionID: connectionID,
		UserID:       userID,
		Action:       models.ActionAutoSuspended,
		Success:      true,
		Context:      map[string]any{"reason": reason},
	})
	s.logger.Warn("connection auto-suspended",
		zap.String("connection_id", connectionID.String()),
		zap.String("reason", reason))

	return nil
}

func (s *connectionService) GetCredentials(ctx context.Context, userID, id uuid.UUID, origin string) (*credcache.Bundle, error) {
	key := credcache.Key{ConnectionID: id, UserID: userID}
	return s.cache.GetOrPopulate(ctx, key, func(ctx context.Context) (*credcache.Bundle, error) {
		conn, blob, err := s.connections.GetByID(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		switch conn.Status {
		case models.StatusRevoked:
			s.monitor.ObserveRevokedUsage(ctx, userID, id, origin)
			return nil, fmt.Errorf("%w: connection is revoked", apperrors.ErrConnectionNotUsable)
		case models.StatusSuspended:
			// Attempts against a suspended connection count toward the same
			// persistent usage pattern as revoked ones.
			s.monitor.ObserveRevokedUsage(ctx, userID, id, origin)
			return nil, fmt.Errorf("%w: connection is suspended", apperrors.ErrConnectionNotUsable)
		}
		if !conn.Status.Usable() {
			return nil, fmt.Errorf("%w: connection status is %s", apperrors.ErrConnectionNotUsable, conn.Status)
		}
		if conn.ExpiresAt != nil && time.Now().After(*conn.ExpiresAt) {
			return nil, fmt.Errorf("%w: connection expired at %s", apperrors.ErrConnectionNotUsable, conn.ExpiresAt.Format(time.RFC3339))
		}

		fields, err := s.cipher.Decrypt(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrCredentialsKeyMismatch, err)
		}

		return &credcache.Bundle{
			ConnectionID: conn.ID,
			UserID:       conn.UserID,
			Type:         conn.Type,
			Fields:       fields,
			Scopes:       conn.Scopes,
		}, nil
	})
}

func (s *connectionService) MarkUsed(ctx context.Context, userID, id uuid.UUID, origin string, execContext map[string]any) {
	if err := s.connections.TouchLastUsed(ctx, id); err != nil {
		s.logger.Warn("failed to stamp connection usage",
			zap.String("connection_id", id.String()),
			zap.Error(err))
	}

	s.recorder.Record(ctx, &models.ConnectionLog{
		ConnectionID: id,
		UserID:       userID,
		Action:       models.ActionUsed,
		Success:      true,
		Context:      execContext,
	})
	s.monitor.ObserveUsage(ctx, userID, id, origin)
}
