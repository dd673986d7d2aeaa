package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PurgeExpired borra los registros de idempotencia vencidos. Una key purgada se acepta como nueva.
func (c *Controller) PurgeExpired(ctx context.Context) (int64, error) {
	var n int64
	err := c.tx.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		n, err = repos.Idempotency.DeleteExpired(ctx, c.now())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return n, nil
}

// RunPurge ejecuta PurgeExpired cada interval hasta que ctx se cancele.
func (c *Controller) RunPurge(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := c.PurgeExpired(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					c.log.Error().Err(err).Msg("purga de idempotencia falló")
				}
				continue
			}
			if n > 0 {
				c.log.Info().Int64("purged", n).Msg("registros de idempotencia vencidos eliminados")
			}
		}
	}
}
