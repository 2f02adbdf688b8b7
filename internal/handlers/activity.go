package handlers

import (
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hacktisch/mailcow-status-tracker/internal/models"
)

var activityTemplate = template.Must(template.New("activity").Funcs(template.FuncMap{
	"statusColor": func(status string) string {
		if color, ok := models.StatusColors[status]; ok {
			return color
		}
		return "gray"
	},
	"orDash": func(s *string) string {
		if s == nil || *s == "" {
			return "-"
		}
		return *s
	},
	"orUnknown": func(s *string) string {
		if s == nil || *s == "" {
			return "Unknown"
		}
		return *s
	},
	"formatTime": func(t time.Time) string {
		return t.Local().Format("2006-01-02 15:04:05")
	},
	"countColor": func(n int) string {
		if n > 0 {
			return "green"
		}
		return "gray"
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Mail Logs</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        table { width: 100%; border-collapse: collapse; margin-top: 20px; }
        th, td { padding: 10px; border: 1px solid #ddd; text-align: left; }
        th { background-color: #f4f4f4; }
        .badge { padding: 5px; border-radius: 4px; color: white; }
    </style>
</head>
<body>
    <h1>Mail Logs</h1>
    <div>Batch processing result:
        <span class="badge" style="background-color: {{countColor .Result.NewStatuses}};">{{.Result.NewStatuses}} new statuses</span>
        <span class="badge" style="background-color: {{countColor .Result.WebhookSent}};">{{.Result.WebhookSent}} webhooks sent</span>
    </div>
    <table>
        <thead>
            <tr>
                <th>Recipient</th>
                <th>Status</th>
                <th>Timestamp</th>
                <th>Queue ID</th>
                <th>Webhook Sent</th>
                <th>Message ID</th>
                <th>Tracking ID</th>
            </tr>
        </thead>
        <tbody>
            {{range .Rows}}
            <tr>
                <td>{{orUnknown .Recipient}}</td>
                <td><span class="badge" style="background-color: {{statusColor .Status}};">{{.Status}}</span></td>
                <td>{{formatTime .Timestamp}}</td>
                <td>{{.QueueID}}</td>
                <td>{{.Webhook}}</td>
                <td>{{orUnknown .MessageID}}</td>
                <td>{{orDash .TrackingID}}</td>
            </tr>
            {{end}}
        </tbody>
    </table>
</body>
</html>
`))

// ActivityPage runs fetch/ingest/dispatch inline and renders the newest
// status rows as an HTML table.
func (h *Handlers) ActivityPage(c *gin.Context) {
	result := h.syncer.ProcessLogs(c.Request.Context())

	rows, err := h.store.RecentActivity(activityPageLimit)
	if err != nil {
		logrus.Errorf("Error handling / route: %v", err)
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := activityTemplate.Execute(c.Writer, gin.H{
		"Result": result,
		"Rows":   rows,
	}); err != nil {
		logrus.Errorf("Error rendering activity page: %v", err)
	}
}
