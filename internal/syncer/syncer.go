package syncer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hacktisch/mailcow-status-tracker/internal/extract"
	"github.com/hacktisch/mailcow-status-tracker/internal/fetch"
	"github.com/hacktisch/mailcow-status-tracker/internal/ingest"
	"github.com/hacktisch/mailcow-status-tracker/internal/metrics"
	"github.com/hacktisch/mailcow-status-tracker/internal/prune"
	"github.com/hacktisch/mailcow-status-tracker/internal/webhook"
)

// Result summarizes one sync cycle for callers and the HTTP surface.
type Result struct {
	NewStatuses int `json:"newStatuses"`
	WebhookSent int `json:"webhookSent"`
}

// Syncer runs the full prune -> fetch -> extract -> ingest -> dispatch
// cycle. Overlapping cycles (timer plus manual trigger plus pixel hits) are
// safe because every write underneath is idempotent; no mutual exclusion is
// taken here.
type Syncer struct {
	fetcher    fetch.LogFetcher
	extractor  *extract.Extractor
	engine     *ingest.Engine
	dispatcher *webhook.Dispatcher
	pruner     *prune.Pruner
	metrics    *metrics.Metrics
}

// New creates a new syncer
func New(fetcher fetch.LogFetcher, extractor *extract.Extractor, engine *ingest.Engine,
	dispatcher *webhook.Dispatcher, pruner *prune.Pruner, m *metrics.Metrics) *Syncer {
	return &Syncer{
		fetcher:    fetcher,
		extractor:  extractor,
		engine:     engine,
		dispatcher: dispatcher,
		pruner:     pruner,
		metrics:    m,
	}
}

// Sync runs one full cycle and returns its counts. A log-source failure
// degrades to an empty batch (dispatch still runs so earlier failures get
// retried); only the error is logged, the cycle itself never aborts.
func (s *Syncer) Sync(ctx context.Context) Result {
	start := time.Now()
	s.metrics.SyncCount.Inc()

	if statuses, mails, err := s.pruner.Prune(); err != nil {
		logrus.Errorf("Retention pruning failed: %v", err)
	} else {
		s.metrics.PrunedRows.Add(float64(statuses + mails))
	}

	result := s.ProcessLogs(ctx)

	duration := time.Since(start)
	s.metrics.SyncDuration.Observe(duration.Seconds())
	logrus.Infof("Sync cycle completed in %v: %d new statuses, %d webhooks sent",
		duration, result.NewStatuses, result.WebhookSent)

	return result
}

// ProcessLogs fetches, extracts, ingests and dispatches without pruning.
// Used by the activity page, which syncs inline on every load.
func (s *Syncer) ProcessLogs(ctx context.Context) Result {
	records, err := s.fetcher.FetchLogs(ctx)
	if err != nil {
		// Fail-soft: treat as an empty batch, the next cycle retries
		logrus.Errorf("Error fetching logs: %v", err)
		records = nil
	}

	events := s.extractor.ExtractBatch(records)
	s.metrics.ExtractedEvents.Add(float64(len(events)))

	newStatuses := s.engine.Ingest(events)
	s.metrics.NewStatuses.Add(float64(newStatuses))

	return Result{
		NewStatuses: newStatuses,
		WebhookSent: s.Dispatch(ctx),
	}
}

// Dispatch runs only the webhook delivery step. The tracking-pixel handler
// calls this after recording an open so the notification goes out without
// waiting for the next timer tick.
func (s *Syncer) Dispatch(ctx context.Context) int {
	return s.dispatcher.Dispatch(ctx)
}
