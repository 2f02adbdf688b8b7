package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hacktisch/mailcow-status-tracker/internal/config"
	"github.com/hacktisch/mailcow-status-tracker/internal/extract"
	"github.com/hacktisch/mailcow-status-tracker/internal/fetch"
	"github.com/hacktisch/mailcow-status-tracker/internal/ingest"
	"github.com/hacktisch/mailcow-status-tracker/internal/metrics"
	"github.com/hacktisch/mailcow-status-tracker/internal/models"
	"github.com/hacktisch/mailcow-status-tracker/internal/prune"
	"github.com/hacktisch/mailcow-status-tracker/internal/store"
	"github.com/hacktisch/mailcow-status-tracker/internal/webhook"
)

var testMetrics = metrics.NewMetrics()

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Mail{}, &models.MailStatus{}))

	return db
}

func newTestSyncer(t *testing.T, db *gorm.DB, logSourceURL, webhookURL string) *Syncer {
	t.Helper()

	st := store.New(db)
	fetcher := fetch.NewHTTPLogFetcher(&config.LogSourceConfig{
		BaseURL:  logSourceURL,
		APIKey:   "test-key",
		PageSize: 50,
		Timeout:  5 * time.Second,
	})
	dispatcher := webhook.New(st, &config.WebhookConfig{URL: webhookURL, Timeout: 5 * time.Second}, testMetrics)

	return New(fetcher, extract.New(), ingest.New(st), dispatcher, prune.New(st, 7), testMetrics)
}

func logSourceServer(t *testing.T, records []models.LogRecord) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(records))
	}))
}

func TestSyncFullCycle(t *testing.T) {
	db := newTestDB(t)

	logs := logSourceServer(t, []models.LogRecord{
		{Time: 1700000000, Message: "postfix/cleanup[1]: ABCDEF0123: message-id=<m1@example.com>"},
		{Time: 1700000010, Message: "postfix/smtp[2]: ABCDEF0123: to=<a@b.com>, status=sent (250 OK)"},
	})
	defer logs.Close()

	delivered := 0
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered++
		w.WriteHeader(http.StatusOK)
	}))
	defer dest.Close()

	s := newTestSyncer(t, db, logs.URL, dest.URL)

	result := s.Sync(context.Background())
	assert.Equal(t, 1, result.NewStatuses)
	assert.Equal(t, 1, result.WebhookSent)
	assert.Equal(t, 1, delivered)

	// a second overlapping-window sync re-derives the same events and is a no-op
	result = s.Sync(context.Background())
	assert.Equal(t, 0, result.NewStatuses)
	assert.Equal(t, 0, result.WebhookSent)
	assert.Equal(t, 1, delivered)
}

func TestSyncFetchFailureDegradesToEmptyBatch(t *testing.T) {
	db := newTestDB(t)

	logs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer logs.Close()

	// a status left pending by an earlier cycle
	st := store.New(db)
	ts := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.UpsertMail(models.Event{QueueID: "ABCDEF0123", Timestamp: ts, MessageID: "m1"}))
	_, err := st.InsertStatus("ABCDEF0123", ts, "deferred", "")
	require.NoError(t, err)

	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer dest.Close()

	s := newTestSyncer(t, db, logs.URL, dest.URL)

	// the fetch fails but the cycle still runs dispatch for the pending row
	result := s.Sync(context.Background())
	assert.Equal(t, 0, result.NewStatuses)
	assert.Equal(t, 1, result.WebhookSent)
}

func TestSyncPrunesExpiredRows(t *testing.T) {
	db := newTestDB(t)

	logs := logSourceServer(t, nil)
	defer logs.Close()

	st := store.New(db)
	old := time.Now().AddDate(0, 0, -8)
	require.NoError(t, st.UpsertMail(models.Event{QueueID: "EXPIRED123", Timestamp: old}))
	_, err := st.InsertStatus("EXPIRED123", old, "sent", "")
	require.NoError(t, err)

	s := newTestSyncer(t, db, logs.URL, "")
	s.Sync(context.Background())

	var count int64
	require.NoError(t, db.Model(&models.Mail{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&models.MailStatus{}).Count(&count).Error)
	assert.Zero(t, count)
}
