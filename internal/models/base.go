package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Role string
type UserStatus string
type ProjectStatus string
type ApplicationStatus string
type InvoiceStatus string

const (
	RoleAdmin   Role = "admin"
	RolePartner Role = "partner"

	UserPending  UserStatus = "pending"
	UserActive   UserStatus = "active"
	UserRejected UserStatus = "rejected"

	ProjectDraft      ProjectStatus = "draft"
	ProjectRecruiting ProjectStatus = "recruiting"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCancelled  ProjectStatus = "cancelled"

	ApplicationApplied  ApplicationStatus = "applied"
	ApplicationRejected ApplicationStatus = "rejected"
	ApplicationHired    ApplicationStatus = "hired"

	InvoiceUnbilled InvoiceStatus = "unbilled"
	InvoiceBilled   InvoiceStatus = "billed"
	InvoicePaid     InvoiceStatus = "paid"
)

var (
	ErrInvalidValue = errors.New("invalid enumeration value")

	ErrInvalidRole              = fmt.Errorf("role: %w", ErrInvalidValue)
	ErrInvalidUserStatus        = fmt.Errorf("user status: %w", ErrInvalidValue)
	ErrInvalidProjectStatus     = fmt.Errorf("project status: %w", ErrInvalidValue)
	ErrInvalidApplicationStatus = fmt.Errorf("application status: %w", ErrInvalidValue)
	ErrInvalidInvoiceStatus     = fmt.Errorf("invoice status: %w", ErrInvalidValue)
)

// normalize folds case and separators so that "InProgress", "in-progress"
// and "IN_PROGRESS" compare equal.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

func parseEnum[T ~string](sentinel error, s string, values ...T) (T, error) {
	key := normalize(s)
	for _, v := range values {
		if key != "" && normalize(string(v)) == key {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w %q", sentinel, s)
}

func unmarshalEnum[T ~string](data []byte, parse func(string) (T, error)) (T, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", err
	}
	return parse(s)
}

func ParseRole(s string) (Role, error) {
	return parseEnum(ErrInvalidRole, s, RoleAdmin, RolePartner)
}

func (r *Role) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, ParseRole)
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func ParseUserStatus(s string) (UserStatus, error) {
	return parseEnum(ErrInvalidUserStatus, s, UserPending, UserActive, UserRejected)
}

func (s *UserStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, ParseUserStatus)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseProjectStatus(s string) (ProjectStatus, error) {
	return parseEnum(ErrInvalidProjectStatus, s,
		ProjectDraft, ProjectRecruiting, ProjectInProgress, ProjectCompleted, ProjectCancelled)
}

func (s *ProjectStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, ParseProjectStatus)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseApplicationStatus(s string) (ApplicationStatus, error) {
	return parseEnum(ErrInvalidApplicationStatus, s, ApplicationApplied, ApplicationRejected, ApplicationHired)
}

func (s *ApplicationStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, ParseApplicationStatus)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	return parseEnum(ErrInvalidInvoiceStatus, s, InvoiceUnbilled, InvoiceBilled, InvoicePaid)
}

func (s *InvoiceStatus) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnum(data, ParseInvoiceStatus)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
