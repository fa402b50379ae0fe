// Package postgres implements the PostgreSQL persistence layer for the
// proctoring service.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/proctorhub/proctoring-service/internal/domain/exam"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXAM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ExamRepository implements exam.Store for PostgreSQL.
type ExamRepository struct {
	conn *Connection
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(conn *Connection) *ExamRepository {
	return &ExamRepository{conn: conn}
}

const examColumns = `
	id, course_id, content_id, exam_name, time_limit_mins, due_date,
	is_proctored, is_practice_exam, is_active, hide_after_due, backend,
	created_at, updated_at
`

// GetByID returns the exam with the given ID.
func (r *ExamRepository) GetByID(ctx context.Context, id exam.ID) (*exam.Exam, error) {
	query := `SELECT ` + examColumns + ` FROM proctored_exams WHERE id = $1`

	row := r.conn.QueryRow(ctx, query, id.String())
	e, err := r.scanExam(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam by id: %w", err)
	}
	return e, nil
}

// GetByContentID returns the exam attached to (course, content).
func (r *ExamRepository) GetByContentID(ctx context.Context, courseID exam.CourseID, contentID exam.ContentID) (*exam.Exam, error) {
	query := `SELECT ` + examColumns + ` FROM proctored_exams WHERE course_id = $1 AND content_id = $2`

	row := r.conn.QueryRow(ctx, query, courseID.String(), contentID.String())
	e, err := r.scanExam(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrExamNotFound
		}
		return nil, fmt.Errorf("failed to get exam by content: %w", err)
	}
	return e, nil
}

// ListForCourse returns all exams in a course, oldest first.
func (r *ExamRepository) ListForCourse(ctx context.Context, courseID exam.CourseID) ([]*exam.Exam, error) {
	query := `SELECT ` + examColumns + ` FROM proctored_exams WHERE course_id = $1 ORDER BY created_at`

	rows, err := r.conn.Query(ctx, query, courseID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list exams for course: %w", err)
	}
	defer rows.Close()

	var exams []*exam.Exam
	for rows.Next() {
		e, err := r.scanExam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exam: %w", err)
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// scanExam scans a single exam from a row.
func (r *ExamRepository) scanExam(row pgx.Row) (*exam.Exam, error) {
	var e exam.Exam
	var id, courseID, contentID, backend string

	err := row.Scan(
		&id,
		&courseID,
		&contentID,
		&e.ExamName,
		&e.TimeLimitMins,
		&e.DueDate,
		&e.IsProctored,
		&e.IsPracticeExam,
		&e.IsActive,
		&e.HideAfterDue,
		&backend,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.ID = exam.ID(id)
	e.CourseID = exam.CourseID(courseID)
	e.ContentID = exam.ContentID(contentID)
	e.BackendName = exam.BackendName(backend)
	return &e, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW POLICY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ReviewPolicyRepository implements exam.ReviewPolicyStore for PostgreSQL.
type ReviewPolicyRepository struct {
	conn *Connection
}

// NewReviewPolicyRepository creates a new ReviewPolicyRepository.
func NewReviewPolicyRepository(conn *Connection) *ReviewPolicyRepository {
	return &ReviewPolicyRepository{conn: conn}
}

// GetForExam returns the review policy for an exam.
func (r *ReviewPolicyRepository) GetForExam(ctx context.Context, examID exam.ID) (*exam.ReviewPolicy, error) {
	query := `
		SELECT id, exam_id, policy, set_by_user_id, created_at, updated_at
		FROM exam_review_policies
		WHERE exam_id = $1
	`

	var p exam.ReviewPolicy
	var eid, setBy string
	err := r.conn.QueryRow(ctx, query, examID.String()).Scan(
		&p.ID, &eid, &p.Policy, &setBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get review policy: %w", err)
	}

	p.ExamID = exam.ID(eid)
	p.SetByUserID = exam.UserID(setBy)
	return &p, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ALLOWANCE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AllowanceRepository implements exam.AllowanceStore for PostgreSQL.
type AllowanceRepository struct {
	conn *Connection
}

// NewAllowanceRepository creates a new AllowanceRepository.
func NewAllowanceRepository(conn *Connection) *AllowanceRepository {
	return &AllowanceRepository{conn: conn}
}

// Get returns the allowance value for (exam, user, key).
func (r *AllowanceRepository) Get(ctx context.Context, examID exam.ID, userID exam.UserID, key exam.AllowanceKey) (*exam.Allowance, error) {
	query := `
		SELECT exam_id, user_id, key, value, created_at
		FROM exam_allowances
		WHERE exam_id = $1 AND user_id = $2 AND key = $3
	`

	row := r.conn.QueryRow(ctx, query, examID.String(), userID.String(), string(key))
	a, err := r.scanAllowance(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("exam", "GetAllowance", shared.ErrNotFound, "allowance not found")
		}
		return nil, fmt.Errorf("failed to get allowance: %w", err)
	}
	return a, nil
}

// ListForUserExam returns every allowance for (exam, user).
func (r *AllowanceRepository) ListForUserExam(ctx context.Context, examID exam.ID, userID exam.UserID) ([]*exam.Allowance, error) {
	query := `
		SELECT exam_id, user_id, key, value, created_at
		FROM exam_allowances
		WHERE exam_id = $1 AND user_id = $2
		ORDER BY key
	`

	rows, err := r.conn.Query(ctx, query, examID.String(), userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list allowances: %w", err)
	}
	defer rows.Close()

	var allowances []*exam.Allowance
	for rows.Next() {
		a, err := r.scanAllowance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allowance: %w", err)
		}
		allowances = append(allowances, a)
	}
	return allowances, rows.Err()
}

// scanAllowance scans a single allowance from a row.
func (r *AllowanceRepository) scanAllowance(row pgx.Row) (*exam.Allowance, error) {
	var a exam.Allowance
	var eid, uid, key string

	if err := row.Scan(&eid, &uid, &key, &a.Value, &a.CreatedAt); err != nil {
		return nil, err
	}

	a.ExamID = exam.ID(eid)
	a.UserID = exam.UserID(uid)
	a.Key = exam.AllowanceKey(key)
	return &a, nil
}

// interface compliance
var (
	_ exam.Store             = (*ExamRepository)(nil)
	_ exam.ReviewPolicyStore = (*ReviewPolicyRepository)(nil)
	_ exam.AllowanceStore    = (*AllowanceRepository)(nil)
)
