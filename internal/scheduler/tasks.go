package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskOutboundMessage = "conversation.outbound_message"

const TaskLeadRecovery = "conversation.lead_recovery"

const (
	// QueueOutbound carries provider sends.
	QueueOutbound = "outbound"
	// QueueMaintenance carries delayed lifecycle jobs like handover recovery.
	QueueMaintenance = "maintenance"
)

type OutboundMessagePayload struct {
	MessageID    string `json:"messageId"`
	TenantID     string `json:"tenantId"`
	LeadID       string `json:"leadId"`
	Route        string `json:"route"`
	TemplateName string `json:"templateName,omitempty"`
	Language     string `json:"language,omitempty"`
}

type LeadRecoveryPayload struct {
	LeadID   string `json:"leadId"`
	TenantID string `json:"tenantId"`
}

func NewOutboundMessageTask(payload OutboundMessagePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboundMessage, data), nil
}

func ParseOutboundMessagePayload(task *asynq.Task) (OutboundMessagePayload, error) {
	var payload OutboundMessagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OutboundMessagePayload{}, err
	}
	return payload, nil
}

func NewLeadRecoveryTask(payload LeadRecoveryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadRecovery, data), nil
}

func ParseLeadRecoveryPayload(task *asynq.Task) (LeadRecoveryPayload, error) {
	var payload LeadRecoveryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return LeadRecoveryPayload{}, err
	}
	return payload, nil
}

// recoveryTaskID keys the recovery job by lead so re-scheduling supersedes
// any job already waiting for that lead.
func recoveryTaskID(leadID string) string {
	return "recovery-" + leadID
}
