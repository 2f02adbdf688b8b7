package prune

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hacktisch/mailcow-status-tracker/internal/store"
)

// Pruner removes mail and status rows older than the retention window,
// bounding storage and keeping the dedup-window queries cheap. Status rows
// go before their mail parents.
type Pruner struct {
	store         *store.Store
	retentionDays int
}

// New creates a new retention pruner
func New(s *store.Store, retentionDays int) *Pruner {
	return &Pruner{store: s, retentionDays: retentionDays}
}

// Prune deletes everything older than the retention window and returns the
// number of removed status and mail rows. Matching nothing is not an error.
func (p *Pruner) Prune() (statuses int64, mails int64, err error) {
	cutoff := time.Now().AddDate(0, 0, -p.retentionDays)

	statuses, mails, err = p.store.PruneOlderThan(cutoff)
	if err != nil {
		return statuses, mails, err
	}

	if statuses > 0 {
		logrus.Infof("Deleted %d rows from mail_status table", statuses)
	}
	if mails > 0 {
		logrus.Infof("Deleted %d rows from mail table", mails)
	}

	return statuses, mails, nil
}
