// Package authz holds role checks, exam visibility rules and the signed
// tokens used for sessions and account activation.
package authz

import (
	"context"
	"errors"

	"lumavet.pet/lumavet/internal/domain"
)

// ErrForbidden is returned when the caller may not perform an action
var ErrForbidden = errors.New("you do not have permission to access this area")

// PermissionChecker looks up explicit exam grants
type PermissionChecker interface {
	HasPermission(ctx context.Context, examID, userID string) (bool, error)
}

// IsAdmin reports whether u is an active admin or superuser
func IsAdmin(u *domain.User) bool {
	return u != nil && u.Active && (u.Superuser || u.Role == domain.RoleAdmin)
}

// CanUpload reports whether u may upload exams (admins and basic users)
func CanUpload(u *domain.User) bool {
	return IsAdmin(u) || (u != nil && u.Active && u.Role == domain.RoleBasic)
}

// CanDeleteExam reports whether u may delete e: admins and the uploader
func CanDeleteExam(u *domain.User, e *domain.Exam) bool {
	if IsAdmin(u) {
		return true
	}
	return u != nil && u.Active && e.UploadedBy != "" && e.UploadedBy == u.ID
}

// CanViewExam reports whether u may see the exam: admins see everything,
// everybody else needs a grant
func CanViewExam(ctx context.Context, perms PermissionChecker, u *domain.User, examID string) (bool, error) {
	if u == nil || !u.Active {
		return false, nil
	}
	if IsAdmin(u) {
		return true, nil
	}
	return perms.HasPermission(ctx, examID, u.ID)
}

// VisibilityFilter is the ExamQuery.VisibleTo value for u: empty for admins
func VisibilityFilter(u *domain.User) string {
	if IsAdmin(u) {
		return ""
	}
	return u.ID
}
