package monitoring

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// ReportModel is one journaled report row.
type ReportModel struct {
	bun.BaseModel `bun:"table:task_reports,alias:tr"`

	ID        uuid.UUID `bun:"id,pk"`
	TaskID    string    `bun:"task_id"`
	Severity  string    `bun:"severity"`
	Text      string    `bun:"text"`
	CreatedAt time.Time `bun:"created_at"`
}

// EventStore journals task reports in Postgres. It is an observability sink
// only; the engine never reads it back.
type EventStore struct {
	db *bun.DB
}

// NewEventStore connects to the journal database.
func NewEventStore(dsn string) *EventStore {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &EventStore{db: db}
}

// InitSchema creates the journal table if missing.
func (s *EventStore) InitSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*ReportModel)(nil)).IfNotExists().Exec(ctx)
	return err
}

// AppendReport writes one report row.
func (s *EventStore) AppendReport(ctx context.Context, taskID, severity, text string) error {
	row := &ReportModel{
		ID:        uuid.New(),
		TaskID:    taskID,
		Severity:  severity,
		Text:      text,
		CreatedAt: time.Now(),
	}
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

// ListReports returns the journal rows of one task, oldest first. Used by
// operator tooling.
func (s *EventStore) ListReports(ctx context.Context, taskID string) ([]ReportModel, error) {
	var rows []ReportModel
	err := s.db.NewSelect().Model(&rows).
		Where("task_id = ?", taskID).
		Order("created_at ASC").
		Scan(ctx)
	return rows, err
}

// Close releases the database connection.
func (s *EventStore) Close() error {
	return s.db.Close()
}
