package service

import (
	"context"
	"log/slog"

	"github.com/proctorhub/proctoring-service/internal/domain/notification"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/external/lms"
)

// EmailSink delivers status emails through the LMS mail relay.
type EmailSink struct {
	client *lms.Client
	logger *slog.Logger
}

func NewEmailSink(client *lms.Client, logger *slog.Logger) *EmailSink {
	return &EmailSink{client: client, logger: logger}
}

func (s *EmailSink) Deliver(ctx context.Context, email *notification.StatusEmail) error {
	err := s.client.SendEmail(ctx, lms.EmailDTO{
		UserID:  email.UserID.String(),
		Subject: email.Subject,
		Body:    email.Body,
	})
	if err != nil {
		return shared.WrapError("notification", "Deliver",
			shared.ErrExternalService, "status email delivery failed", err)
	}
	s.logger.Info("status email delivered",
		"user_id", email.UserID.String(),
		"exam_id", email.ExamID.String(),
		"status", string(email.Status))
	return nil
}

// LoggingSink records status emails without delivering them. Used when
// status emails are disabled or no mail relay is configured.
type LoggingSink struct {
	logger *slog.Logger
}

func NewLoggingSink(logger *slog.Logger) *LoggingSink {
	return &LoggingSink{logger: logger}
}

func (s *LoggingSink) Deliver(ctx context.Context, email *notification.StatusEmail) error {
	s.logger.Info("status email suppressed",
		"user_id", email.UserID.String(),
		"exam_id", email.ExamID.String(),
		"status", string(email.Status),
		"subject", email.Subject)
	return nil
}

// interface compliance
var (
	_ notification.Sink = (*EmailSink)(nil)
	_ notification.Sink = (*LoggingSink)(nil)
)
