package scheduler

import (
	"context"
	"fmt"

	"convopilot_backend/platform/config"
	"convopilot_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// OutboundDelivery is one parsed send job.
type OutboundDelivery struct {
	MessageID    uuid.UUID
	TenantID     uuid.UUID
	LeadID       uuid.UUID
	Route        string
	TemplateName string
	Language     string
}

// OutboundSender performs the provider send for a queued message.
type OutboundSender interface {
	DeliverQueuedMessage(ctx context.Context, d OutboundDelivery) error
	// MarkDeliveryFailed flags the pending row once retries are exhausted.
	MarkDeliveryFailed(ctx context.Context, messageID, tenantID uuid.UUID) error
}

// RecoveryHandler runs the delayed handover recovery for a lead.
type RecoveryHandler interface {
	HandleRecovery(ctx context.Context, leadID, tenantID uuid.UUID) error
}

type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	sender   OutboundSender
	recovery RecoveryHandler
	log      *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, sender OutboundSender, recovery RecoveryHandler, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueOutbound:    3,
			QueueMaintenance: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:   server,
		mux:      mux,
		sender:   sender,
		recovery: recovery,
		log:      log,
	}

	mux.HandleFunc(TaskOutboundMessage, w.handleOutboundMessage)
	mux.HandleFunc(TaskLeadRecovery, w.handleLeadRecovery)

	return w, nil
}

func (w *Worker) handleOutboundMessage(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseOutboundMessagePayload(task)
	if err != nil {
		return err
	}

	messageID, err := uuid.Parse(payload.MessageID)
	if err != nil {
		return err
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return err
	}
	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return err
	}

	delivery := OutboundDelivery{
		MessageID:    messageID,
		TenantID:     tenantID,
		LeadID:       leadID,
		Route:        payload.Route,
		TemplateName: payload.TemplateName,
		Language:     payload.Language,
	}

	if err := w.sender.DeliverQueuedMessage(ctx, delivery); err != nil {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried >= maxRetry {
			if markErr := w.sender.MarkDeliveryFailed(ctx, messageID, tenantID); markErr != nil {
				w.log.Error("failed to mark exhausted delivery", "messageId", messageID, "error", markErr)
			}
		}
		return err
	}
	return nil
}

func (w *Worker) handleLeadRecovery(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLeadRecoveryPayload(task)
	if err != nil {
		return err
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return err
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return err
	}

	return w.recovery.HandleRecovery(ctx, leadID, tenantID)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
