package service

import (
	"context"
	"errors"

	"github.com/proctorhub/proctoring-service/internal/domain/credit"
	"github.com/proctorhub/proctoring-service/internal/domain/shared"
	"github.com/proctorhub/proctoring-service/internal/infrastructure/external/lms"
)

// CreditAdapter adapts the lms.Client to the credit.Service interface.
type CreditAdapter struct {
	client *lms.Client
}

func NewCreditAdapter(client *lms.Client) *CreditAdapter {
	return &CreditAdapter{client: client}
}

func (a *CreditAdapter) GetCreditState(ctx context.Context, courseID, userID string) (*credit.CreditState, error) {
	dto, err := a.client.GetCreditState(ctx, courseID, userID)
	if err != nil {
		return nil, wrapLMSError("credit", "GetCreditState", err)
	}

	requirements := make([]credit.RequirementStatus, 0, len(dto.Requirements))
	for _, r := range dto.Requirements {
		requirements = append(requirements, credit.RequirementStatus{
			Namespace:   r.Namespace,
			Name:        r.Name,
			DisplayName: r.DisplayName,
			Order:       r.Order,
			Status:      credit.RequirementState(r.Status),
		})
	}

	return &credit.CreditState{
		CourseID:     dto.CourseID,
		UserID:       dto.UserID,
		Requirements: requirements,
	}, nil
}

func (a *CreditAdapter) SetRequirementStatus(ctx context.Context, courseID, userID, namespace, name string, state credit.RequirementState) error {
	err := a.client.SetRequirementStatus(ctx, courseID, userID, lms.RequirementUpdateDTO{
		Namespace: namespace,
		Name:      name,
		Status:    string(state),
	})
	if err != nil {
		return wrapLMSError("credit", "SetRequirementStatus", err)
	}
	return nil
}

func (a *CreditAdapter) RemoveRequirementStatus(ctx context.Context, courseID, userID, namespace, name string) error {
	err := a.client.RemoveRequirementStatus(ctx, courseID, userID, namespace, name)
	if err != nil {
		// Removing an absent requirement status is a no-op.
		var apiErr *lms.APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return nil
		}
		return wrapLMSError("credit", "RemoveRequirementStatus", err)
	}
	return nil
}

// GradesAdapter adapts the lms.Client to the credit.GradesService interface.
type GradesAdapter struct {
	client *lms.Client
}

func NewGradesAdapter(client *lms.Client) *GradesAdapter {
	return &GradesAdapter{client: client}
}

func (a *GradesAdapter) OverrideSubsectionGrade(ctx context.Context, courseID, userID, contentID string, earned float64) error {
	if err := a.client.OverrideSubsectionGrade(ctx, courseID, userID, contentID, earned); err != nil {
		return wrapLMSError("grades", "OverrideSubsectionGrade", err)
	}
	return nil
}

func (a *GradesAdapter) UndoOverrideSubsectionGrade(ctx context.Context, courseID, userID, contentID string) error {
	err := a.client.UndoOverrideSubsectionGrade(ctx, courseID, userID, contentID)
	if err != nil {
		// Undoing an absent override is a no-op.
		var apiErr *lms.APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return nil
		}
		return wrapLMSError("grades", "UndoOverrideSubsectionGrade", err)
	}
	return nil
}

func (a *GradesAdapter) ShouldOverrideGradeOnRejected(ctx context.Context, courseID string) (bool, error) {
	dto, err := a.client.GetCoursePolicy(ctx, courseID)
	if err != nil {
		return false, wrapLMSError("grades", "ShouldOverrideGradeOnRejected", err)
	}
	return dto.OverrideGradeOnRejected, nil
}

// CertificatesAdapter adapts the lms.Client to the credit.CertificatesService interface.
type CertificatesAdapter struct {
	client *lms.Client
}

func NewCertificatesAdapter(client *lms.Client) *CertificatesAdapter {
	return &CertificatesAdapter{client: client}
}

func (a *CertificatesAdapter) InvalidateCertificate(ctx context.Context, courseID, userID string) error {
	err := a.client.InvalidateCertificate(ctx, courseID, userID)
	if err != nil {
		// No certificate to invalidate is success.
		var apiErr *lms.APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return nil
		}
		return wrapLMSError("certificates", "InvalidateCertificate", err)
	}
	return nil
}

// interface compliance
var (
	_ credit.Service             = (*CreditAdapter)(nil)
	_ credit.GradesService       = (*GradesAdapter)(nil)
	_ credit.CertificatesService = (*CertificatesAdapter)(nil)
)

// wrapLMSError converts an LMS client failure into a domain error.
func wrapLMSError(domain, op string, err error) error {
	var apiErr *lms.APIError
	if errors.As(err, &apiErr) && apiErr.IsNotFound() {
		return shared.WrapError(domain, op, shared.ErrNotFound, "lms resource not found", err)
	}
	return shared.WrapError(domain, op, shared.ErrExternalService, "lms call failed", err)
}
