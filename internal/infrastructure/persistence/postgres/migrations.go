// Package postgres implements the PostgreSQL persistence layer for the
// proctoring service.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROCTORED EXAMS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create proctored exam reference tables
-- Version: 001

-- Exam definitions, keyed by (course, content)
CREATE TABLE IF NOT EXISTS proctored_exams (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    course_id VARCHAR(255) NOT NULL,
    content_id VARCHAR(255) NOT NULL,
    exam_name VARCHAR(255) NOT NULL,
    time_limit_mins INTEGER NOT NULL DEFAULT 0,
    due_date TIMESTAMP WITH TIME ZONE,
    is_proctored BOOLEAN NOT NULL DEFAULT FALSE,
    is_practice_exam BOOLEAN NOT NULL DEFAULT FALSE,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    hide_after_due BOOLEAN NOT NULL DEFAULT FALSE,
    backend VARCHAR(50) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_time_limit CHECK (time_limit_mins >= 0),
    UNIQUE(course_id, content_id)
);

CREATE INDEX IF NOT EXISTS idx_proctored_exams_course ON proctored_exams(course_id);
CREATE INDEX IF NOT EXISTS idx_proctored_exams_course_active
    ON proctored_exams(course_id) WHERE is_active AND is_proctored;

-- Per-exam review policy text handed to vendor reviewers
CREATE TABLE IF NOT EXISTS exam_review_policies (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    exam_id UUID NOT NULL REFERENCES proctored_exams(id) ON DELETE CASCADE,
    policy TEXT NOT NULL DEFAULT '',
    set_by_user_id VARCHAR(255) NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(exam_id)
);

-- Per-(exam, user) grants: extra time, review policy exceptions
CREATE TABLE IF NOT EXISTS exam_allowances (
    id SERIAL PRIMARY KEY,
    exam_id UUID NOT NULL REFERENCES proctored_exams(id) ON DELETE CASCADE,
    user_id VARCHAR(255) NOT NULL,
    key VARCHAR(100) NOT NULL,
    value TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE(exam_id, user_id, key)
);

CREATE INDEX IF NOT EXISTS idx_exam_allowances_exam_user ON exam_allowances(exam_id, user_id);

-- Updated_at trigger function for automatic timestamp updates
CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ language 'plpgsql';

DROP TRIGGER IF EXISTS update_proctored_exams_updated_at ON proctored_exams;
CREATE TRIGGER update_proctored_exams_updated_at
    BEFORE UPDATE ON proctored_exams
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();

DROP TRIGGER IF EXISTS update_exam_review_policies_updated_at ON exam_review_policies;
CREATE TRIGGER update_exam_review_policies_updated_at
    BEFORE UPDATE ON exam_review_policies
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();
`

const migration001Down = `
DROP TRIGGER IF EXISTS update_exam_review_policies_updated_at ON exam_review_policies;
DROP TRIGGER IF EXISTS update_proctored_exams_updated_at ON proctored_exams;
DROP FUNCTION IF EXISTS update_updated_at_column();
DROP TABLE IF EXISTS exam_allowances;
DROP TABLE IF EXISTS exam_review_policies;
DROP TABLE IF EXISTS proctored_exams;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE EXAM ATTEMPTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create exam attempt lifecycle table
-- Version: 002

CREATE TABLE IF NOT EXISTS exam_attempts (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    exam_id UUID NOT NULL REFERENCES proctored_exams(id) ON DELETE CASCADE,
    user_id VARCHAR(255) NOT NULL,
    attempt_code VARCHAR(255) NOT NULL UNIQUE,
    external_id VARCHAR(255) NOT NULL DEFAULT '',
    status VARCHAR(50) NOT NULL DEFAULT 'created',
    started_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    allowed_time_limit_mins INTEGER NOT NULL DEFAULT 0,
    time_remaining_seconds INTEGER,
    is_resumable BOOLEAN NOT NULL DEFAULT FALSE,
    taking_as_proctored BOOLEAN NOT NULL DEFAULT FALSE,
    is_sample_practice BOOLEAN NOT NULL DEFAULT FALSE,
    review_policy_id VARCHAR(255) NOT NULL DEFAULT '',
    is_status_acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_status CHECK (status IN (
        'created', 'download_software_clicked', 'ready_to_start', 'started',
        'ready_to_submit', 'submitted', 'second_review_required', 'verified',
        'rejected', 'declined', 'timed_out', 'error', 'ready_to_resume',
        'resumed', 'onboarding_missing', 'onboarding_failed', 'onboarding_expired'
    )),
    CONSTRAINT valid_version CHECK (version >= 1)
);

CREATE INDEX IF NOT EXISTS idx_exam_attempts_exam_user ON exam_attempts(exam_id, user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_exam_attempts_external_id
    ON exam_attempts(external_id) WHERE external_id != '';
CREATE INDEX IF NOT EXISTS idx_exam_attempts_user ON exam_attempts(user_id);

DROP TRIGGER IF EXISTS update_exam_attempts_updated_at ON exam_attempts;
CREATE TRIGGER update_exam_attempts_updated_at
    BEFORE UPDATE ON exam_attempts
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();
`

const migration002Down = `
DROP TRIGGER IF EXISTS update_exam_attempts_updated_at ON exam_attempts;
DROP TABLE IF EXISTS exam_attempts;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: TIMEOUT SWEEP INDEX
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Expired attempt sweep support
-- Version: 003
-- Purpose: let the timeout sweep find overdue started attempts without a
-- full table scan. Expiry is started_at plus the allowed time limit.

CREATE INDEX IF NOT EXISTS idx_exam_attempts_expiry
    ON exam_attempts ((started_at + (allowed_time_limit_mins * INTERVAL '1 minute')))
    WHERE started_at IS NOT NULL
      AND status IN ('started', 'ready_to_submit', 'resumed');
`

const migration003Down = `
DROP INDEX IF EXISTS idx_exam_attempts_expiry;
`
