package attempt

import (
	"context"
	"time"

	"github.com/proctorhub/proctoring-service/internal/domain/exam"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACE
// The contract for attempt persistence. Implementations live in
// infrastructure/persistence and must honor the optimistic version check.
// ══════════════════════════════════════════════════════════════════════════════

// Store defines persistence operations for attempts.
type Store interface {
	// Create persists a new attempt.
	// Returns shared.ErrAttemptAlreadyExists when a current attempt for the
	// (exam, user) slot exists and the caller did not clear it first.
	Create(ctx context.Context, a *Attempt) error

	// GetByID returns the attempt with the given ID.
	// Returns shared.ErrAttemptNotFound if absent.
	GetByID(ctx context.Context, id string) (*Attempt, error)

	// GetByCode returns the attempt with the given attempt code.
	GetByCode(ctx context.Context, code string) (*Attempt, error)

	// GetByExternalID returns the attempt with the given vendor-side ID.
	GetByExternalID(ctx context.Context, externalID string) (*Attempt, error)

	// GetCurrent returns the current (most recent non-resumed) attempt for
	// the (exam, user) slot. Returns shared.ErrAttemptNotFound if none.
	GetCurrent(ctx context.Context, examID exam.ID, userID exam.UserID) (*Attempt, error)

	// ListForUserExam returns every attempt (historical and current) for
	// the (exam, user) pair, oldest first. The authority rule runs over
	// this list.
	ListForUserExam(ctx context.Context, examID exam.ID, userID exam.UserID) ([]*Attempt, error)

	// ListForCourse returns every attempt on exams in the given course.
	ListForCourse(ctx context.Context, courseID exam.CourseID) ([]*Attempt, error)

	// Update persists a mutated attempt. The attempt's Version must match
	// the stored row; on mismatch Update returns an
	// shared.ErrOptimisticLock-kinded error and writes nothing. On success
	// the stored and in-memory Version are incremented.
	Update(ctx context.Context, a *Attempt) error

	// Delete hard-deletes the attempt.
	Delete(ctx context.Context, id string) error

	// FindExpired returns started, incomplete attempts whose allowed time
	// elapsed at or before now. The timeout sweep runs over this index.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Attempt, error)
}
