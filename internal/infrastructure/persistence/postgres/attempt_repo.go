// Package postgres implements the PostgreSQL persistence layer for the
// proctoring service.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/proctorhub/proctoring-service/internal/domain/attempt"
	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AttemptRepository implements attempt.Store for PostgreSQL. Updates use
// the attempt's version column for optimistic concurrency.
type AttemptRepository struct {
	conn *Connection
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(conn *Connection) *AttemptRepository {
	return &AttemptRepository{conn: conn}
}

const attemptColumns = `
	id, exam_id, user_id, attempt_code, external_id, status,
	started_at, completed_at, allowed_time_limit_mins, time_remaining_seconds,
	is_resumable, taking_as_proctored, is_sample_practice, review_policy_id,
	is_status_acknowledged, version, created_at, updated_at
`

// ─────────────────────────────────────────────────────────────────────────────
// CRUD Operations
// ─────────────────────────────────────────────────────────────────────────────

// Create persists a new attempt.
func (r *AttemptRepository) Create(ctx context.Context, a *attempt.Attempt) error {
	query := `
		INSERT INTO exam_attempts (
			id, exam_id, user_id, attempt_code, external_id, status,
			started_at, completed_at, allowed_time_limit_mins, time_remaining_seconds,
			is_resumable, taking_as_proctored, is_sample_practice, review_policy_id,
			is_status_acknowledged, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.conn.Exec(ctx, query,
		a.ID,
		a.ExamID.String(),
		a.UserID.String(),
		a.AttemptCode,
		a.ExternalID,
		string(a.Status),
		a.StartedAt,
		a.CompletedAt,
		a.AllowedTimeLimitMins,
		a.TimeRemainingSeconds,
		a.IsResumable,
		a.TakingAsProctored,
		a.IsSamplePractice,
		a.ReviewPolicyID,
		a.IsStatusAcknowledged,
		a.Version,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAttemptAlreadyExists
		}
		return fmt.Errorf("failed to create attempt: %w", err)
	}

	return nil
}

// GetByID returns the attempt with the given ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id string) (*attempt.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM exam_attempts WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByCode returns the attempt with the given attempt code.
func (r *AttemptRepository) GetByCode(ctx context.Context, code string) (*attempt.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM exam_attempts WHERE attempt_code = $1`
	return r.getOne(ctx, query, code)
}

// GetByExternalID returns the attempt with the given vendor-side ID.
func (r *AttemptRepository) GetByExternalID(ctx context.Context, externalID string) (*attempt.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM exam_attempts WHERE external_id = $1 AND external_id != ''`
	return r.getOne(ctx, query, externalID)
}

// GetCurrent returns the most recent attempt for the (exam, user) slot.
func (r *AttemptRepository) GetCurrent(ctx context.Context, examID exam.ID, userID exam.UserID) (*attempt.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM exam_attempts
		WHERE exam_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.getOne(ctx, query, examID.String(), userID.String())
}

// ListForUserExam returns every attempt for the (exam, user) pair, oldest first.
func (r *AttemptRepository) ListForUserExam(ctx context.Context, examID exam.ID, userID exam.UserID) ([]*attempt.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM exam_attempts
		WHERE exam_id = $1 AND user_id = $2
		ORDER BY created_at
	`

	rows, err := r.conn.Query(ctx, query, examID.String(), userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	return r.scanAttempts(rows)
}

// ListForCourse returns every attempt on exams in the given course.
func (r *AttemptRepository) ListForCourse(ctx context.Context, courseID exam.CourseID) ([]*attempt.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM exam_attempts
		WHERE exam_id IN (SELECT id FROM proctored_exams WHERE course_id = $1)
		ORDER BY created_at
	`

	rows, err := r.conn.Query(ctx, query, courseID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts for course: %w", err)
	}
	defer rows.Close()

	return r.scanAttempts(rows)
}

// Update persists a mutated attempt. The stored version must match the
// attempt's current version; otherwise nothing is written and an
// optimistic lock error is returned.
func (r *AttemptRepository) Update(ctx context.Context, a *attempt.Attempt) error {
	query := `
		UPDATE exam_attempts SET
			external_id = $3,
			status = $4,
			started_at = $5,
			completed_at = $6,
			allowed_time_limit_mins = $7,
			time_remaining_seconds = $8,
			is_resumable = $9,
			taking_as_proctored = $10,
			is_sample_practice = $11,
			review_policy_id = $12,
			is_status_acknowledged = $13,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2
	`

	tag, err := r.conn.Exec(ctx, query,
		a.ID,
		a.Version,
		a.ExternalID,
		string(a.Status),
		a.StartedAt,
		a.CompletedAt,
		a.AllowedTimeLimitMins,
		a.TimeRemainingSeconds,
		a.IsResumable,
		a.TakingAsProctored,
		a.IsSamplePractice,
		a.ReviewPolicyID,
		a.IsStatusAcknowledged,
	)
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAttemptVersionStale
	}

	a.Version++
	return nil
}

// Delete hard-deletes the attempt.
func (r *AttemptRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM exam_attempts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAttemptNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Timeout sweep
// ─────────────────────────────────────────────────────────────────────────────

// FindExpired returns started, incomplete attempts whose allowed time
// elapsed at or before now, oldest expiry first.
func (r *AttemptRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*attempt.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM exam_attempts
		WHERE started_at IS NOT NULL
		  AND status IN ('started', 'ready_to_submit', 'resumed')
		  AND started_at + (allowed_time_limit_mins * INTERVAL '1 minute') <= $1
		ORDER BY started_at + (allowed_time_limit_mins * INTERVAL '1 minute')
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired attempts: %w", err)
	}
	defer rows.Close()

	return r.scanAttempts(rows)
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

// getOne runs a single-row query and maps no-rows to the domain error.
func (r *AttemptRepository) getOne(ctx context.Context, query string, args ...interface{}) (*attempt.Attempt, error) {
	row := r.conn.QueryRow(ctx, query, args...)
	a, err := r.scanAttempt(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return a, nil
}

// scanAttempt scans a single attempt from a row.
func (r *AttemptRepository) scanAttempt(row pgx.Row) (*attempt.Attempt, error) {
	var a attempt.Attempt
	var examID, userID, status string

	err := row.Scan(
		&a.ID,
		&examID,
		&userID,
		&a.AttemptCode,
		&a.ExternalID,
		&status,
		&a.StartedAt,
		&a.CompletedAt,
		&a.AllowedTimeLimitMins,
		&a.TimeRemainingSeconds,
		&a.IsResumable,
		&a.TakingAsProctored,
		&a.IsSamplePractice,
		&a.ReviewPolicyID,
		&a.IsStatusAcknowledged,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ExamID = exam.ID(examID)
	a.UserID = exam.UserID(userID)
	a.Status = attempt.Status(status)
	return &a, nil
}

// scanAttempts scans multiple attempts from rows.
func (r *AttemptRepository) scanAttempts(rows pgx.Rows) ([]*attempt.Attempt, error) {
	var attempts []*attempt.Attempt
	for rows.Next() {
		a, err := r.scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// interface compliance
var _ attempt.Store = (*AttemptRepository)(nil)
