// Package scheduler enqueues and executes the platform's background jobs
// on asynq: provider sends and delayed handover recovery.
package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"convopilot_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// OutboundEnqueuer schedules provider sends.
type OutboundEnqueuer interface {
	EnqueueOutboundMessage(ctx context.Context, payload OutboundMessagePayload) error
}

// RecoveryScheduler manages the per-lead delayed recovery job.
type RecoveryScheduler interface {
	ScheduleLeadRecovery(ctx context.Context, payload LeadRecoveryPayload, runAt time.Time) error
	CancelLeadRecovery(ctx context.Context, leadID string) error
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	err := c.client.Close()
	if c.inspector != nil {
		_ = c.inspector.Close()
	}
	return err
}

// EnqueueOutboundMessage queues a provider send. The task id is derived
// from the pending message row so redundant enqueues of the same message
// collapse into one job.
func (c *Client) EnqueueOutboundMessage(ctx context.Context, payload OutboundMessagePayload) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewOutboundMessageTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueOutbound),
		asynq.TaskID("outbound-"+payload.MessageID),
		asynq.MaxRetry(5),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// ScheduleLeadRecovery (re)arms the delayed recovery job for a lead. Any
// job already pending for the lead is deleted first, so only the most
// recent handover's deadline survives.
func (c *Client) ScheduleLeadRecovery(ctx context.Context, payload LeadRecoveryPayload, runAt time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	if err := c.CancelLeadRecovery(ctx, payload.LeadID); err != nil {
		return err
	}

	task, err := NewLeadRecoveryTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueMaintenance),
		asynq.TaskID(recoveryTaskID(payload.LeadID)),
		asynq.ProcessAt(runAt),
		asynq.MaxRetry(3),
	)
	return err
}

// CancelLeadRecovery drops the pending recovery job for a lead, if any.
func (c *Client) CancelLeadRecovery(_ context.Context, leadID string) error {
	if c == nil || c.inspector == nil {
		return nil
	}

	err := c.inspector.DeleteTask(QueueMaintenance, recoveryTaskID(leadID))
	if err != nil && !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
		return err
	}
	return nil
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
