package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hacktisch/mailcow-status-tracker/internal/models"
)

// Store wraps all database access for the mail/status model. Every write is
// either an idempotent upsert or a single-row conditional update, so
// overlapping sync cycles converge without explicit locking.
type Store struct {
	db *gorm.DB
}

// New creates a new store
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying gorm handle for health checks
func (s *Store) DB() *gorm.DB {
	return s.db
}

// UpsertMail reconciles one extracted event into the mail table. Fields are
// filled in first-writer-wins (a known value is never overwritten), except
// the timestamp, which tracks the latest observation. If the event's message
// id is currently attached to a different queue id (a locally recorded send
// the agent has now accepted), that row and its status history are folded
// into the event's queue id first.
func (s *Store) UpsertMail(event models.Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if event.MessageID != "" {
			if err := adoptQueueID(tx, event.MessageID, event.QueueID); err != nil {
				return err
			}
		}

		var mail models.Mail
		result := tx.Where("queue_id = ?", event.QueueID).First(&mail)
		if result.Error == gorm.ErrRecordNotFound {
			mail = models.Mail{
				QueueID:   event.QueueID,
				Timestamp: event.Timestamp,
			}
			if event.MessageID != "" {
				mail.MessageID = &event.MessageID
			}
			if event.Recipient != "" {
				mail.Recipient = &event.Recipient
			}
			if err := tx.Create(&mail).Error; err != nil {
				return fmt.Errorf("failed to insert mail %s: %w", event.QueueID, err)
			}
			return nil
		}
		if result.Error != nil {
			return fmt.Errorf("failed to load mail %s: %w", event.QueueID, result.Error)
		}

		updates := map[string]interface{}{"timestamp": event.Timestamp}
		if mail.MessageID == nil && event.MessageID != "" {
			updates["message_id"] = event.MessageID
		}
		if mail.Recipient == nil && event.Recipient != "" {
			updates["recipient"] = event.Recipient
		}
		if err := tx.Model(&mail).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update mail %s: %w", event.QueueID, err)
		}
		return nil
	})
}

// adoptQueueID moves the mail row owning messageID (and its status children)
// onto queueID, keeping the message id attached to at most one queue id.
// When queueID has no row yet the owner is simply re-keyed; when a row
// already exists (the agent's status line arrived first) the owner is merged
// into it and the placeholder deleted. A no-op when nothing owns the message
// id or the owner already is queueID.
func adoptQueueID(tx *gorm.DB, messageID, queueID string) error {
	var owner models.Mail
	result := tx.Where("message_id = ? AND queue_id <> ?", messageID, queueID).First(&owner)
	if result.Error == gorm.ErrRecordNotFound {
		return nil
	}
	if result.Error != nil {
		return fmt.Errorf("failed to look up message id owner: %w", result.Error)
	}

	var target models.Mail
	result = tx.Where("queue_id = ?", queueID).First(&target)
	if result.Error == gorm.ErrRecordNotFound {
		if err := moveStatuses(tx, owner.QueueID, queueID); err != nil {
			return err
		}
		if err := tx.Model(&models.Mail{}).
			Where("queue_id = ?", owner.QueueID).
			Update("queue_id", queueID).Error; err != nil {
			return fmt.Errorf("failed to re-key mail %s: %w", owner.QueueID, err)
		}
		return nil
	}
	if result.Error != nil {
		return fmt.Errorf("failed to load mail %s: %w", queueID, result.Error)
	}

	// Both rows exist. The target cannot take a second message id, so only a
	// row without one absorbs the owner.
	if target.MessageID != nil {
		return nil
	}

	updates := map[string]interface{}{"message_id": messageID}
	if target.Recipient == nil && owner.Recipient != nil {
		updates["recipient"] = *owner.Recipient
	}
	if target.TrackingID == nil && owner.TrackingID != nil {
		updates["tracking_id"] = *owner.TrackingID
	}
	if err := tx.Model(&target).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to merge mail %s into %s: %w", owner.QueueID, queueID, err)
	}

	if err := moveStatuses(tx, owner.QueueID, queueID); err != nil {
		return err
	}
	if err := tx.Where("queue_id = ?", owner.QueueID).Delete(&models.Mail{}).Error; err != nil {
		return fmt.Errorf("failed to delete merged mail %s: %w", owner.QueueID, err)
	}
	return nil
}

// moveStatuses re-keys status children from one queue id to another, one row
// at a time so a triple the destination already holds is dropped instead of
// tripping the dedup index.
func moveStatuses(tx *gorm.DB, from, to string) error {
	var statuses []models.MailStatus
	if err := tx.Where("queue_id = ?", from).Find(&statuses).Error; err != nil {
		return fmt.Errorf("failed to load statuses of %s: %w", from, err)
	}

	for _, status := range statuses {
		var dupes int64
		err := tx.Model(&models.MailStatus{}).
			Where("queue_id = ? AND timestamp = ? AND status = ?", to, status.Timestamp, status.Status).
			Count(&dupes).Error
		if err != nil {
			return fmt.Errorf("failed to check status dedup for %s: %w", to, err)
		}
		if dupes > 0 {
			if err := tx.Delete(&models.MailStatus{}, status.ID).Error; err != nil {
				return fmt.Errorf("failed to drop duplicate status %d: %w", status.ID, err)
			}
			continue
		}
		if err := tx.Model(&models.MailStatus{}).
			Where("id = ?", status.ID).
			Update("queue_id", to).Error; err != nil {
			return fmt.Errorf("failed to re-key status %d: %w", status.ID, err)
		}
	}
	return nil
}

// InsertStatus appends one status observation. Re-inserting an already seen
// (queue id, timestamp, status) triple is a silent no-op; the return value
// reports whether a new row was created.
func (s *Store) InsertStatus(queueID string, timestamp time.Time, status, description string) (bool, error) {
	row := models.MailStatus{
		QueueID:     queueID,
		Timestamp:   timestamp,
		Status:      status,
		Description: description,
	}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "queue_id"}, {Name: "timestamp"}, {Name: "status"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert status for %s: %w", queueID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// PendingStatus is one undelivered status row joined with its owning mail,
// carrying everything the webhook payload needs.
type PendingStatus struct {
	ID          uint
	QueueID     string
	Timestamp   time.Time
	Status      string
	Description string
	MessageID   string
	Recipient   *string
}

// PendingWebhooks returns every status row still awaiting webhook delivery
// whose owning mail has a known message id.
func (s *Store) PendingWebhooks() ([]PendingStatus, error) {
	var rows []PendingStatus
	err := s.db.Table("mail_status").
		Select("mail_status.id, mail.queue_id, mail_status.timestamp, mail_status.status, mail_status.description, mail.message_id, mail.recipient").
		Joins("INNER JOIN mail ON mail.queue_id = mail_status.queue_id").
		Where("mail_status.webhook = ? AND mail.message_id IS NOT NULL", models.WebhookPending).
		Order("mail_status.timestamp ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select pending webhooks: %w", err)
	}
	return rows, nil
}

// SetWebhookFlag transitions one status row's webhook flag out of the
// pending state. Guarded on webhook = 0 so a racing dispatcher that already
// resolved the row leaves it untouched.
func (s *Store) SetWebhookFlag(id uint, flag int) error {
	result := s.db.Model(&models.MailStatus{}).
		Where("id = ? AND webhook = ?", id, models.WebhookPending).
		Update("webhook", flag)
	if result.Error != nil {
		return fmt.Errorf("failed to update webhook flag for status %d: %w", id, result.Error)
	}
	return nil
}

// PruneOlderThan deletes status rows, then mail rows, older than cutoff.
// Children go first so no history ever dangles.
func (s *Store) PruneOlderThan(cutoff time.Time) (statuses int64, mails int64, err error) {
	result := s.db.Where("timestamp < ?", cutoff).Delete(&models.MailStatus{})
	if result.Error != nil {
		return 0, 0, fmt.Errorf("failed to prune mail_status: %w", result.Error)
	}
	statuses = result.RowsAffected

	result = s.db.Where("timestamp < ?", cutoff).Delete(&models.Mail{})
	if result.Error != nil {
		return statuses, 0, fmt.Errorf("failed to prune mail: %w", result.Error)
	}
	mails = result.RowsAffected

	return statuses, mails, nil
}

// ActivityRow is one line of the recent-activity listing.
type ActivityRow struct {
	Recipient  *string
	MessageID  *string
	Status     string
	Timestamp  time.Time
	QueueID    string
	TrackingID *string
	Webhook    int
}

// RecentActivity returns the newest status observations joined with their
// mail rows, newest first.
func (s *Store) RecentActivity(limit int) ([]ActivityRow, error) {
	var rows []ActivityRow
	err := s.db.Table("mail_status").
		Select("mail.recipient, mail.message_id, mail_status.status, mail_status.timestamp, mail.queue_id, mail.tracking_id, mail_status.webhook").
		Joins("INNER JOIN mail ON mail.queue_id = mail_status.queue_id").
		Order("mail_status.timestamp DESC, mail.timestamp DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select recent activity: %w", err)
	}
	return rows, nil
}

// HistoryRow is one status observation in a message's delivery history.
type HistoryRow struct {
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Recipient   *string   `json:"recipient"`
}

// StatusHistory returns the ordered status history for one message id.
func (s *Store) StatusHistory(messageID string) ([]HistoryRow, error) {
	var rows []HistoryRow
	err := s.db.Table("mail_status").
		Select("mail_status.timestamp, mail_status.status, mail_status.description, mail.recipient").
		Joins("INNER JOIN mail ON mail.queue_id = mail_status.queue_id").
		Where("mail.message_id = ?", messageID).
		Order("mail_status.timestamp ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select status history: %w", err)
	}
	return rows, nil
}

// FindMailByTrackingID returns mail rows carrying the tracking id whose send
// happened at or before the given instant.
func (s *Store) FindMailByTrackingID(trackingID string, sentBefore time.Time) ([]models.Mail, error) {
	var mails []models.Mail
	err := s.db.Where("tracking_id = ? AND timestamp <= ?", trackingID, sentBefore).Find(&mails).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up tracking id: %w", err)
	}
	return mails, nil
}

// RecordSend records one locally sent message under a generated queue id and
// returns that id. If the message id is already known (a resend through the
// same pipeline), the existing row is reused and its empty fields filled in.
// The row joins the same dedup and dispatch machinery as log observations.
func (s *Store) RecordSend(messageID, recipient, trackingID string) (string, error) {
	var queueID string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if messageID != "" {
			var existing models.Mail
			result := tx.Where("message_id = ?", messageID).First(&existing)
			if result.Error == nil {
				updates := map[string]interface{}{"timestamp": time.Now()}
				if existing.Recipient == nil && recipient != "" {
					updates["recipient"] = recipient
				}
				if existing.TrackingID == nil && trackingID != "" {
					updates["tracking_id"] = trackingID
				}
				if err := tx.Model(&existing).Updates(updates).Error; err != nil {
					return fmt.Errorf("failed to update mail for resend: %w", err)
				}
				queueID = existing.QueueID
				return nil
			}
			if result.Error != gorm.ErrRecordNotFound {
				return fmt.Errorf("failed to look up message id: %w", result.Error)
			}
		}

		mail := models.Mail{
			QueueID:   models.LocalQueuePrefix + uuid.NewString(),
			Timestamp: time.Now(),
		}
		if messageID != "" {
			mail.MessageID = &messageID
		}
		if recipient != "" {
			mail.Recipient = &recipient
		}
		if trackingID != "" {
			mail.TrackingID = &trackingID
		}
		if err := tx.Create(&mail).Error; err != nil {
			return fmt.Errorf("failed to record send: %w", err)
		}
		queueID = mail.QueueID
		return nil
	})
	if err != nil {
		return "", err
	}
	return queueID, nil
}

// RecordStatus appends one locally observed status (a send acceptance or a
// tracking-pixel open) for a mail row, timestamped now, reusing the
// idempotent insert semantics of the log ingestion path.
func (s *Store) RecordStatus(queueID, status, description string) (bool, error) {
	return s.InsertStatus(queueID, time.Now(), status, description)
}
