package ingest

import (
	"github.com/sirupsen/logrus"

	"github.com/hacktisch/mailcow-status-tracker/internal/models"
	"github.com/hacktisch/mailcow-status-tracker/internal/store"
)

// Engine merges batches of extracted events into the persisted mail/status
// model. All writes are idempotent upserts, so re-ingesting a batch (or an
// overlapping page from the log source) converges to the same state.
type Engine struct {
	store *store.Store
}

// New creates a new ingestion engine
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Ingest persists a batch of events and returns the number of newly inserted
// status rows. A failure on one event is logged and does not stop the rest
// of the batch; a retried sync re-derives the same events and converges.
func (e *Engine) Ingest(events []models.Event) int {
	newStatuses := 0

	for _, event := range events {
		if err := e.store.UpsertMail(event); err != nil {
			logrus.Errorf("Error processing log for queue id %s: %v", event.QueueID, err)
			continue
		}

		if event.Status == "" {
			continue
		}

		created, err := e.store.InsertStatus(event.QueueID, event.Timestamp, event.Status, event.Description)
		if err != nil {
			logrus.Errorf("Error recording status for queue id %s: %v", event.QueueID, err)
			continue
		}
		if created {
			newStatuses++
		}
	}

	return newStatuses
}
