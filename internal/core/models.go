package core

import (
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusSent       QueueStatus = "sent"
	StatusFailed     QueueStatus = "failed"
)

type CampaignStatus string

const (
	CampaignActive   CampaignStatus = "active"
	CampaignPaused   CampaignStatus = "paused"
	CampaignCanceled CampaignStatus = "canceled"
)

type Campaign struct {
	ID                uuid.UUID      `json:"id"`
	Name              string         `json:"name"`
	Status            CampaignStatus `json:"status"`
	RecipientTimezone string         `json:"recipient_timezone"`
	CreatedAt         time.Time      `json:"created_at"`
}

type Lead struct {
	ID       uuid.UUID `json:"id"`
	BatchID  uuid.UUID `json:"batch_id"`
	Email    string    `json:"email"`
	Name     string    `json:"name"`
	City     string    `json:"city"`
	Timezone string    `json:"timezone"`
}

// QueueEntry is the durable record of intent to send one touch to one lead
// at one computed UTC instant.
type QueueEntry struct {
	ID                uuid.UUID   `json:"id"`
	CampaignID        uuid.UUID   `json:"campaign_id"`
	LeadID            uuid.UUID   `json:"lead_id"`
	RecipientEmail    string      `json:"recipient_email"`
	RecipientName     string      `json:"recipient_name"`
	SendDay           int         `json:"send_day"`
	RecipientTimezone string      `json:"recipient_timezone"`
	ScheduledFor      time.Time   `json:"scheduled_for"`
	Status            QueueStatus `json:"status"`
	RetryCount        int         `json:"retry_count"`
	ErrorMessage      *string     `json:"error_message,omitempty"`
	SentAt            *time.Time  `json:"sent_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// DayStats breaks one campaign's queue down for a single send day.
type DayStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// CampaignStats aggregates queue state for one campaign. Processing rows count
// under pending: the claim state is transient and operators reason in terms of
// pending/sent/failed.
type CampaignStats struct {
	Total   int              `json:"total"`
	Pending int              `json:"pending"`
	Sent    int              `json:"sent"`
	Failed  int              `json:"failed"`
	ByDay   map[int]DayStats `json:"by_day"`
}

type HealthStatus string

const (
	HealthOK       HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

type QueueHealth struct {
	Status  HealthStatus `json:"status"`
	Total   int          `json:"total_queue_entries"`
	Pending int          `json:"pending_count"`
	Overdue int          `json:"overdue_count"`
}

type CleanupResult struct {
	SentRemoved   int `json:"sent_removed"`
	FailedRemoved int `json:"failed_removed"`
}
