package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hacktisch/mailcow-status-tracker/internal/config"
	"github.com/hacktisch/mailcow-status-tracker/internal/extract"
	"github.com/hacktisch/mailcow-status-tracker/internal/fetch"
	"github.com/hacktisch/mailcow-status-tracker/internal/ingest"
	"github.com/hacktisch/mailcow-status-tracker/internal/mailer"
	"github.com/hacktisch/mailcow-status-tracker/internal/metrics"
	"github.com/hacktisch/mailcow-status-tracker/internal/models"
	"github.com/hacktisch/mailcow-status-tracker/internal/prune"
	"github.com/hacktisch/mailcow-status-tracker/internal/scheduler"
	"github.com/hacktisch/mailcow-status-tracker/internal/store"
	"github.com/hacktisch/mailcow-status-tracker/internal/syncer"
	"github.com/hacktisch/mailcow-status-tracker/internal/webhook"
)

var testMetrics = metrics.NewMetrics()

type testEnv struct {
	router *gin.Engine
	store  *store.Store
	syncer *syncer.Syncer
}

func newTestEnv(t *testing.T, logSourceURL, authPassword string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Mail{}, &models.MailStatus{}))

	st := store.New(db)
	fetcher := fetch.NewHTTPLogFetcher(&config.LogSourceConfig{
		BaseURL:  logSourceURL,
		PageSize: 50,
		Timeout:  5 * time.Second,
	})
	dispatcher := webhook.New(st, &config.WebhookConfig{Timeout: 5 * time.Second}, testMetrics)
	sync := syncer.New(fetcher, extract.New(), ingest.New(st), dispatcher, prune.New(st, 7), testMetrics)

	sender, err := mailer.New(&config.SMTPConfig{}, "", st)
	require.NoError(t, err)

	sched := scheduler.NewScheduler(&config.SchedulerConfig{CronSpec: "0 0 * * * *"}, sync)

	h := NewHandlers(st, sync, sender, sched, authPassword)

	router := gin.New()
	h.SetupRoutes(router)

	return &testEnv{router: router, store: st, syncer: sync}
}

func emptyLogSource(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	}))
}

func TestHealthCheck(t *testing.T) {
	logs := emptyLogSource(t)
	defer logs.Close()
	env := newTestEnv(t, logs.URL, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "stopped", body["scheduler"])
}

func TestMessageStatuses(t *testing.T) {
	logs := emptyLogSource(t)
	defer logs.Close()
	env := newTestEnv(t, logs.URL, "")

	ts := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, env.store.UpsertMail(models.Event{
		QueueID:   "ABCDEF0123",
		Timestamp: ts,
		MessageID: "m1@example.com",
		Recipient: "a@b.com",
	}))
	_, err := env.store.InsertStatus("ABCDEF0123", ts, "sent", "log line")
	require.NoError(t, err)

	// missing parameter
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/message", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// unknown message id
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/message?message_id=nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// known message id
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/message?message_id=m1@example.com", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		MessageID string             `json:"message_id"`
		Statuses  []store.HistoryRow `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "m1@example.com", body.MessageID)
	require.Len(t, body.Statuses, 1)
	assert.Equal(t, "sent", body.Statuses[0].Status)
}

func TestSyncLogsEndpoint(t *testing.T) {
	logs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode([]models.LogRecord{
			{Time: time.Now().Unix(), Message: "postfix/smtp[1]: ABCDEF0123: to=<a@b.com>, status=sent (250 OK)"},
		}))
	}))
	defer logs.Close()
	env := newTestEnv(t, logs.URL, "")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sync-logs", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var result syncer.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.NewStatuses)
	assert.Equal(t, 0, result.WebhookSent)
}

func TestActivityPage(t *testing.T) {
	logs := emptyLogSource(t)
	defer logs.Close()
	env := newTestEnv(t, logs.URL, "")

	ts := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, env.store.UpsertMail(models.Event{
		QueueID:   "ABCDEF0123",
		Timestamp: ts,
		Recipient: "a@b.com",
	}))
	_, err := env.store.InsertStatus("ABCDEF0123", ts, "bounced", "551 denied")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	body := w.Body.String()
	assert.Contains(t, body, "Mail Logs")
	assert.Contains(t, body, "ABCDEF0123")
	assert.Contains(t, body, "bounced")
	assert.Contains(t, body, "Crimson")
}

func TestTrackServesPixel(t *testing.T) {
	logs := emptyLogSource(t)
	defer logs.Close()
	env := newTestEnv(t, logs.URL, "")

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/track?trackingId=unknown", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
	assert.NotEmpty(t, w.Body.Bytes())
}

func TestTrackRecordsOpenAfterDelay(t *testing.T) {
	logs := emptyLogSource(t)
	defer logs.Close()
	env := newTestEnv(t, logs.URL, "")

	queueID, err := env.store.RecordSend("m1@example.com", "a@b.com", "track-1")
	require.NoError(t, err)

	// too soon: the load is treated as a scanner prefetch
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/track?trackingId=track-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	require.NoError(t, env.store.DB().Model(&models.MailStatus{}).Where("status = ?", "open").Count(&count).Error)
	assert.Zero(t, count)

	// age the send past the prefetch window
	require.NoError(t, env.store.DB().Model(&models.Mail{}).
		Where("queue_id = ?", queueID).
		Update("timestamp", time.Now().Add(-time.Minute)).Error)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/track?trackingId=track-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, env.store.DB().Model(&models.MailStatus{}).Where("status = ?", "open").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestSendRequiresPassword(t *testing.T) {
	logs := emptyLogSource(t)
	defer logs.Close()
	env := newTestEnv(t, logs.URL, "hunter2")

	payload := `{"from":"noreply@example.com","to":"a@b.com","subject":"hi","text":"hello","password":"wrong"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSendValidatesRequiredFields(t *testing.T) {
	logs := emptyLogSource(t)
	defer logs.Close()
	env := newTestEnv(t, logs.URL, "")

	payload := `{"from":"noreply@example.com"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
