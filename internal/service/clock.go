package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultSendInterval = time.Minute

type dueSender interface {
	SendDueEmails(ctx context.Context) (SendDueResult, error)
}

// SendClock drives the sender on a fixed cadence.
type SendClock struct {
	sender   dueSender
	logger   *zap.Logger
	interval time.Duration
}

func NewSendClock(sender dueSender, interval time.Duration, logger *zap.Logger) (*SendClock, error) {
	if sender == nil {
		return nil, errNilDependency("sender")
	}
	if interval <= 0 {
		interval = defaultSendInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SendClock{
		sender:   sender,
		logger:   logger,
		interval: interval,
	}, nil
}

// Start runs one cycle immediately and then one per tick until ctx is done.
func (c *SendClock) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := c.tick(ctx); err != nil && ctx.Err() == nil {
		c.logger.Error("initial send cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("send cycle failed", zap.Error(err))
			}
		}
	}
}

func (c *SendClock) tick(ctx context.Context) error {
	result, err := c.sender.SendDueEmails(ctx)
	if err != nil {
		return err
	}
	if result.CycleSkipped {
		c.logger.Debug("send cycle skipped, another cycle is still running")
	}
	return nil
}
