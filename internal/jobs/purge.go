package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
)

// purgeGrace keeps expired rows around long enough that clients still
// see expiry-specific errors instead of not-found.
const purgeGrace = 7 * 24 * time.Hour

const purgeTimeout = 30 * time.Second

// StartPurge schedules cleanup of dead sessions, spent reset tokens and
// stale invitations. The returned scheduler is stopped by the caller on
// shutdown.
func StartPurge(ctx context.Context, store *repository.Store, schedule string, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, purgeTimeout)
		defer cancel()
		cutoff := time.Now().UTC().Add(-purgeGrace)

		sessions, err := store.PurgeSessions(runCtx, cutoff)
		if err != nil {
			logger.Error("session purge failed", zap.Error(err))
		}
		tokens, err := store.PurgeResetTokens(runCtx, cutoff)
		if err != nil {
			logger.Error("reset token purge failed", zap.Error(err))
		}
		invitations, err := store.PurgeInvitations(runCtx, cutoff)
		if err != nil {
			logger.Error("invitation purge failed", zap.Error(err))
		}
		if sessions+tokens+invitations > 0 {
			logger.Info("purged stale rows",
				zap.Int64("sessions", sessions),
				zap.Int64("resetTokens", tokens),
				zap.Int64("invitations", invitations))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
