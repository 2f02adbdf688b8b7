package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hacktisch/mailcow-status-tracker/internal/models"
)

var (
	// Postfix queue ids are runs of uppercase hex, at least 10 characters
	queueIDPattern = regexp.MustCompile(`\b[A-F0-9]{10,}\b`)
	statusPattern  = regexp.MustCompile(`status=([\w-]+)`)
	messageIDPattr = regexp.MustCompile(`message-id=<([^>]+)>`)
	recipientPattr = regexp.MustCompile(`to=<([^>]+)>`)
)

// Extractor turns raw transfer-agent log lines into structured delivery
// events. Pure pattern matching, no I/O.
type Extractor struct{}

// New creates a new extractor
func New() *Extractor {
	return &Extractor{}
}

// Extract parses one raw log record. It returns the extracted event and
// true, or a zero event and false when the line carries nothing worth
// storing: a line without a queue id cannot be joined to anything, and a
// bare queue id without message id, status or recipient adds no information.
func (e *Extractor) Extract(record models.LogRecord) (models.Event, bool) {
	message := record.Message

	queueID := queueIDPattern.FindString(message)
	if queueID == "" {
		return models.Event{}, false
	}

	event := models.Event{
		QueueID:     queueID,
		Timestamp:   time.Unix(record.Time, 0).UTC(),
		Description: message,
	}

	if m := statusPattern.FindStringSubmatch(message); m != nil {
		event.Status = m[1]
	}
	if m := messageIDPattr.FindStringSubmatch(message); m != nil {
		// Stored bare; angle brackets are transport syntax, not identity
		event.MessageID = strings.TrimSpace(m[1])
	}
	if m := recipientPattr.FindStringSubmatch(message); m != nil {
		event.Recipient = m[1]
	}

	if event.MessageID == "" && event.Status == "" && event.Recipient == "" {
		return models.Event{}, false
	}

	return event, true
}

// ExtractBatch parses a batch of raw records, skipping lines that yield no
// event. A single unusable line never aborts the batch.
func (e *Extractor) ExtractBatch(records []models.LogRecord) []models.Event {
	events := make([]models.Event, 0, len(records))
	for _, record := range records {
		event, ok := e.Extract(record)
		if !ok {
			logrus.Debugf("Skipping log line without extractable event: %.120s", record.Message)
			continue
		}
		events = append(events, event)
	}
	return events
}
