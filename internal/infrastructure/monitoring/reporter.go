// Package monitoring carries the outbound observability surfaces: the task
// reporter, the Prometheus metrics, and the optional Postgres report journal.
package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smilemakc/conductor/internal/infrastructure/bus"
)

// notificationsQueue receives progress and error reports of every task.
const notificationsQueue = "task-reports"

// Journal appends reports to a durable log. The reporter treats it as
// write-only and optional.
type Journal interface {
	AppendReport(ctx context.Context, taskID, severity, text string) error
}

// Reporter forwards a task's progress and error events to the notifications
// queue, the log, and (when configured) the journal. One reporter serves one
// task.
type Reporter struct {
	client  bus.Client
	journal Journal
	taskID  string
	log     zerolog.Logger
}

// NewReporter builds the reporter for one task. journal may be nil.
func NewReporter(client bus.Client, journal Journal, taskID string, log zerolog.Logger) *Reporter {
	if client != nil {
		if err := client.Declare(notificationsQueue); err != nil {
			log.Warn().Err(err).Msg("cannot declare notifications queue")
		}
	}
	return &Reporter{
		client:  client,
		journal: journal,
		taskID:  taskID,
		log:     log,
	}
}

// Report publishes a progress event.
func (r *Reporter) Report(text string) {
	r.log.Info().Str("task_id", r.taskID).Msg(text)
	r.publish("info", text)
}

// ReportError publishes an error event.
func (r *Reporter) ReportError(text string, err error) {
	r.log.Error().Err(err).Str("task_id", r.taskID).Msg(text)
	message := text
	if err != nil {
		message = text + ": " + err.Error()
	}
	r.publish("error", message)
}

func (r *Reporter) publish(severity, text string) {
	if r.client != nil {
		message := &bus.Message{
			ID: uuid.New().String(),
			Body: map[string]any{
				"task_id":   r.taskID,
				"severity":  severity,
				"text":      text,
				"timestamp": time.Now().Format(time.RFC3339),
			},
		}
		if err := r.client.Publish("", notificationsQueue, message); err != nil {
			r.log.Warn().Err(err).Msg("cannot publish report")
		}
	}
	if r.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.journal.AppendReport(ctx, r.taskID, severity, text); err != nil {
			r.log.Warn().Err(err).Msg("cannot journal report")
		}
	}
}
