// Package auth connects the external identity provider to portal profiles:
// registration, login, and reconciliation of provider sessions with the
// profile store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bizmatch/internal/models"
	"bizmatch/internal/notify"
	"bizmatch/internal/retry"
)

type Options struct {
	// OperatorEmail identifies the account that is never signed out because
	// of a lost provider session.
	OperatorEmail string
	// ReconcileAttempts and ReconcileDelay bound the profile lookup retry.
	ReconcileAttempts int
	ReconcileDelay    time.Duration
}

type Bridge struct {
	provider Provider
	verifier *TokenVerifier
	db       *models.DB
	notifier *notify.Dispatcher
	lookup   retry.Policy
	operator string
	log      logrus.FieldLogger
}

// NewBridge wires the bridge. verifier and notifier may be nil.
func NewBridge(provider Provider, verifier *TokenVerifier, db *models.DB, notifier *notify.Dispatcher, opts Options, log logrus.FieldLogger) *Bridge {
	if opts.ReconcileAttempts < 1 {
		opts.ReconcileAttempts = 8
	}
	if opts.ReconcileDelay <= 0 {
		opts.ReconcileDelay = 500 * time.Millisecond
	}
	return &Bridge{
		provider: provider,
		verifier: verifier,
		db:       db,
		notifier: notifier,
		lookup:   retry.Fixed(opts.ReconcileAttempts, opts.ReconcileDelay),
		operator: models.NormalizeEmail(opts.OperatorEmail),
		log:      log,
	}
}

// RegisterInput carries the sign-up credentials and the caller's profile
// fields.
type RegisterInput struct {
	Email                     string   `json:"email" binding:"required"`
	Password                  string   `json:"password" binding:"required"`
	Name                      string   `json:"name" binding:"required"`
	AvatarURL                 string   `json:"avatarUrl"`
	Skills                    []string `json:"skills"`
	Address                   string   `json:"address"`
	Phone                     string   `json:"phone"`
	BankInfo                  string   `json:"bankInfo"`
	InvoiceRegistrationNumber string   `json:"invoiceRegistrationNumber"`
}

// Register creates the provider identity and a pending partner profile keyed
// by the provider's user id. Role, status and portal access always take the
// defaults.
func (b *Bridge) Register(ctx context.Context, in RegisterInput) (*models.User, *Session, error) {
	email := models.NormalizeEmail(in.Email)
	sess, err := b.provider.SignUp(ctx, email, in.Password)
	if err != nil {
		return nil, nil, err
	}

	if sess.AccessToken != "" {
		meta := map[string]any{"name": in.Name, "avatar_url": in.AvatarURL}
		if err := b.provider.UpdateProfile(ctx, sess.AccessToken, meta); err != nil {
			b.log.WithError(err).WithField("email", email).Warn("failed to set identity display profile")
		}
	}

	user := &models.User{
		ID:                        sess.User.ID,
		Email:                     email,
		Name:                      in.Name,
		Role:                      models.RolePartner,
		Status:                    models.UserPending,
		PortalAccess:              true,
		Skills:                    in.Skills,
		Address:                   in.Address,
		Phone:                     in.Phone,
		BankInfo:                  in.BankInfo,
		InvoiceRegistrationNumber: in.InvoiceRegistrationNumber,
		AvatarURL:                 in.AvatarURL,
		CreatedAt:                 time.Now().UTC(),
	}
	if err := b.db.Users.Save(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("failed to create profile: %w", err)
	}

	if b.notifier != nil {
		b.notifier.NotifyAdmins(ctx, models.NotifyAccount, "新規パートナー登録",
			fmt.Sprintf("%s さんが登録しました。審査してください。", user.Name), "")
	}
	return user, sess, nil
}

// Login signs in with the provider and resolves the profile by email. The
// provider session is revoked when the profile is missing or not allowed in.
func (b *Bridge) Login(ctx context.Context, email, password string) (*models.User, *Session, error) {
	email = models.NormalizeEmail(email)
	sess, err := b.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}

	user, err := b.profileFor(ctx, email)
	if err != nil {
		b.signOut(ctx, sess.AccessToken)
		return nil, nil, err
	}
	return user, sess, nil
}

// LoginWithEmail applies the profile rules of Login to an identity that was
// already authenticated elsewhere, such as an OAuth callback.
func (b *Bridge) LoginWithEmail(ctx context.Context, email string) (*models.User, error) {
	return b.profileFor(ctx, models.NormalizeEmail(email))
}

func (b *Bridge) profileFor(ctx context.Context, email string) (*models.User, error) {
	user, err := b.db.Users.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", email, ErrProfileNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !user.CanAccessPortal() {
		return nil, fmt.Errorf("%s: %w", email, ErrAccessDenied)
	}
	return user, nil
}

func (b *Bridge) Logout(ctx context.Context, st *SessionState) {
	b.signOut(ctx, st.AccessToken)
	st.Clear()
}

func (b *Bridge) ResetPassword(ctx context.Context, email string) error {
	return b.provider.ResetPassword(ctx, models.NormalizeEmail(email))
}

func (b *Bridge) signOut(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	if err := b.provider.SignOut(ctx, accessToken); err != nil {
		b.log.WithError(err).Warn("provider sign-out failed")
	}
}

func (b *Bridge) isOperator(email string) bool {
	return b.operator != "" && strings.EqualFold(models.NormalizeEmail(email), b.operator)
}
