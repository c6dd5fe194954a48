package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var proctorEventColumns = []string{"id", "assessment_id", "user_id", "kind", "severity", "message", "recorded_at"}

// ProctorEventRepository stores the audit trail of proctoring warnings and violations.
type ProctorEventRepository struct {
	pool *pgxpool.Pool
}

// NewProctorEventRepository creates a new ProctorEventRepository.
func NewProctorEventRepository(pool *pgxpool.Pool) *ProctorEventRepository {
	return &ProctorEventRepository{pool: pool}
}

// InsertBatch bulk-loads events with COPY. Any bad row fails the whole batch.
func (r *ProctorEventRepository) InsertBatch(ctx context.Context, events []model.ProctorEvent) (int64, error) {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{
			e.ID, e.AssessmentID, e.UserID, string(e.Kind), string(e.Severity), e.Message, e.RecordedAt,
		})
	}

	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"proctor_events"},
		proctorEventColumns,
		pgx.CopyFromRows(rows),
	)
}

// Insert writes one event. Replaying an event already stored is a no-op.
func (r *ProctorEventRepository) Insert(ctx context.Context, e model.ProctorEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctor_events (id, assessment_id, user_id, kind, severity, message, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.AssessmentID, e.UserID, string(e.Kind), string(e.Severity), e.Message, e.RecordedAt,
	)
	return err
}

// CountsByAssessment returns warning and violation counts for every user
// with at least one event in the assessment.
func (r *ProctorEventRepository) CountsByAssessment(ctx context.Context, assessmentID string) ([]model.ProctorEventCount, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id,
		        COUNT(*) FILTER (WHERE severity = 'WARNING'),
		        COUNT(*) FILTER (WHERE severity = 'VIOLATION')
		 FROM proctor_events
		 WHERE assessment_id = $1
		 GROUP BY user_id
		 ORDER BY user_id`,
		assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []model.ProctorEventCount
	for rows.Next() {
		var c model.ProctorEventCount
		if err := rows.Scan(&c.UserID, &c.Warnings, &c.Violations); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// ListBySession returns the most recent events of one user, newest first.
func (r *ProctorEventRepository) ListBySession(ctx context.Context, assessmentID, userID string, limit int) ([]model.ProctorEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, assessment_id, user_id, kind, severity, message, recorded_at
		 FROM proctor_events
		 WHERE assessment_id = $1 AND user_id = $2
		 ORDER BY recorded_at DESC
		 LIMIT $3`,
		assessmentID, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent returns the latest events of an assessment across all users.
func (r *ProctorEventRepository) ListRecent(ctx context.Context, assessmentID string, limit int) ([]model.ProctorEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, assessment_id, user_id, kind, severity, message, recorded_at
		 FROM proctor_events
		 WHERE assessment_id = $1
		 ORDER BY recorded_at DESC
		 LIMIT $2`,
		assessmentID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]model.ProctorEvent, error) {
	var events []model.ProctorEvent
	for rows.Next() {
		var e model.ProctorEvent
		if err := rows.Scan(&e.ID, &e.AssessmentID, &e.UserID, &e.Kind, &e.Severity, &e.Message, &e.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
