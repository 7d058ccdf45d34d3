package model

import "time"

// Job binds a Command to concrete arguments and a retention policy.
type Job struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Comment           string         `json:"comment"`
	CommandID         string         `json:"command_id"`
	Arguments         map[string]any `json:"arguments"`
	RetentionPolicyID *string        `json:"retention_policy_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
