package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bizmatch/internal/database"
)

// User is a profile record. Its id is the identity provider's user id.
type User struct {
	ID                        string     `json:"id"`
	Email                     string     `json:"email"`
	Name                      string     `json:"name"`
	Role                      Role       `json:"role"`
	Status                    UserStatus `json:"status"`
	PortalAccess              bool       `json:"portalAccess"`
	Skills                    []string   `json:"skills,omitempty"`
	BankInfo                  string     `json:"bankInfo,omitempty"`
	Address                   string     `json:"address,omitempty"`
	Phone                     string     `json:"phone,omitempty"`
	InvoiceRegistrationNumber string     `json:"invoiceRegistrationNumber,omitempty"`
	AvatarURL                 string     `json:"avatarUrl,omitempty"`
	CreatedAt                 time.Time  `json:"createdAt"`
}

// Check rejects profiles whose role or status is missing.
func (u *User) Check() error {
	if u.Role == "" {
		return fmt.Errorf("%w %q", ErrInvalidRole, "")
	}
	if u.Status == "" {
		return fmt.Errorf("%w %q", ErrInvalidUserStatus, "")
	}
	return nil
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanAccessPortal reports whether the profile may sign in to this portal.
// Admins always can; partners need the portalAccess flag.
func (u *User) CanAccessPortal() bool {
	return u.IsAdmin() || u.PortalAccess
}

// IsRestricted reports whether the user is limited to their own profile
// screen: a partner that is not yet (or no longer) active.
func (u *User) IsRestricted() bool {
	return u.Role == RolePartner && u.Status != UserActive
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UserManager provides Django-like ORM methods for User
type UserManager struct {
	manager[User]
}

// Save writes the full profile keyed by its id.
func (m *UserManager) Save(ctx context.Context, user *User) error {
	user.Email = NormalizeEmail(user.Email)
	return m.Create(ctx, user)
}

// GetByEmail retrieves a user by email
func (m *UserManager) GetByEmail(ctx context.Context, email string) (*User, error) {
	return m.First(ctx, database.Record{"email": NormalizeEmail(email)})
}

// Admins returns every admin profile.
func (m *UserManager) Admins(ctx context.Context) ([]User, error) {
	return m.Where(ctx, database.Query{}, func(u *User) bool { return u.IsAdmin() })
}

// Partners returns partner profiles, optionally restricted to one status.
func (m *UserManager) Partners(ctx context.Context, status UserStatus) ([]User, error) {
	return m.Where(ctx, database.Query{}, func(u *User) bool {
		return u.Role == RolePartner && (status == "" || u.Status == status)
	})
}
