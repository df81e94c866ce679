package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is used when no mail queue is configured.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for transactional account emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypePurgeTokens removes inactive verification and reset tokens.
	TaskTypePurgeTokens = "tokens:purge"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	Kind      string `json:"kind"`
	AccountID string `json:"account_id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// NewSendEmailTask constructs an asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal send email payload: %w", err)
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewPurgeTokensTask constructs the payload-less purge task registered with the scheduler.
func NewPurgeTokensTask() *asynq.Task {
	return asynq.NewTask(TaskTypePurgeTokens, nil)
}
