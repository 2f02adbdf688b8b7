package models

import (
	"time"
)

// Webhook delivery flag values for MailStatus.Webhook.
const (
	WebhookPending   = 0  // not yet attempted
	WebhookDelivered = 1  // accepted by the destination
	WebhookSkipped   = -1 // no destination configured, never retried
)

// LocalQueuePrefix marks queue ids generated for locally sent mail that the
// transfer agent has not reported on yet. Once a log line carrying the same
// message id arrives, the row is re-keyed to the agent's real queue id.
const LocalQueuePrefix = "local-"

// Mail represents one observed or locally sent message, keyed by the
// transfer agent's queue id.
type Mail struct {
	QueueID    string    `json:"queue_id" gorm:"primaryKey;type:varchar(64);column:queue_id"`
	MessageID  *string   `json:"message_id" gorm:"type:varchar(255);uniqueIndex"`
	Recipient  *string   `json:"recipient" gorm:"type:varchar(255);index"`
	TrackingID *string   `json:"tracking_id" gorm:"type:varchar(64);index"`
	Timestamp  time.Time `json:"timestamp" gorm:"not null;index"`

	// Relationship
	Statuses []MailStatus `json:"statuses,omitempty" gorm:"foreignKey:QueueID;references:QueueID"`
}

// TableName specifies the table name for Mail
func (Mail) TableName() string {
	return "mail"
}

// MailStatus represents one delivery-status observation for a mail row.
// Rows are append-only; only the webhook flag ever changes after insert.
type MailStatus struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	QueueID     string    `json:"queue_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_mail_status_dedup,priority:1"`
	Timestamp   time.Time `json:"timestamp" gorm:"not null;uniqueIndex:idx_mail_status_dedup,priority:2;index"`
	Status      string    `json:"status" gorm:"type:varchar(64);not null;uniqueIndex:idx_mail_status_dedup,priority:3;index"`
	Description string    `json:"description" gorm:"type:text"`
	Webhook     int       `json:"webhook" gorm:"not null;default:0;index"`
}

// TableName specifies the table name for MailStatus
func (MailStatus) TableName() string {
	return "mail_status"
}

// LogRecord is one raw entry returned by the upstream log API.
type LogRecord struct {
	Time    int64  `json:"time"`
	Message string `json:"message"`
}

// Event is a structured delivery event extracted from a single log line.
// QueueID and Timestamp are always set; the remaining fields are empty when
// the line did not carry them.
type Event struct {
	QueueID     string
	Timestamp   time.Time
	Description string
	MessageID   string
	Status      string
	Recipient   string
}

// WebhookPayload is the JSON body posted to the configured destination for
// each delivered status row.
type WebhookPayload struct {
	QueueID     string    `json:"queue_id"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	MessageID   string    `json:"message_id"`
	Recipient   string    `json:"recipient"`
}

// StatusColors maps well-known status tokens to the colors used by the
// activity page. Presentation only: the status vocabulary is open and the
// pipeline never branches on these values.
var StatusColors = map[string]string{
	"processed": "Gray",
	"sent":      "ForestGreen",
	"open":      "SteelBlue",
	"bounced":   "Crimson",
	"dropped":   "Black",
	"deferred":  "Sienna",
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
