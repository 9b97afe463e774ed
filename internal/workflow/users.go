package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"bizmatch/internal/database"
	"bizmatch/internal/models"
)

// ApproveUser activates a pending partner.
func (o *Orchestrator) ApproveUser(ctx context.Context, actor *models.User, userID string) (*models.User, error) {
	return o.setPartnerStatus(ctx, actor, userID, models.UserActive, "approve_user",
		"アカウントが承認されました", "パートナーとして承認されました。案件への応募が可能になりました。")
}

// RejectUser declines a partner registration.
func (o *Orchestrator) RejectUser(ctx context.Context, actor *models.User, userID string) (*models.User, error) {
	return o.setPartnerStatus(ctx, actor, userID, models.UserRejected, "reject_user",
		"アカウント審査の結果", "今回はパートナー登録を見送らせていただきました。")
}

func (o *Orchestrator) setPartnerStatus(ctx context.Context, actor *models.User, userID string, status models.UserStatus, op, title, message string) (user *models.User, err error) {
	started := time.Now()
	defer func() { o.finish(ctx, op, started, err, "ステータスを更新しました", "ステータスの更新に失敗しました") }()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	err = o.db.Transaction(ctx, func(tx *models.DB) error {
		current, err := tx.Users.Lock(ctx, userID)
		if err != nil {
			return err
		}
		if current.Role != models.RolePartner {
			return fmt.Errorf("%w: user %s is not a partner", ErrInvalidInput, current.ID)
		}
		if err := tx.Users.Update(ctx, current.ID, database.Record{"status": status}); err != nil {
			return err
		}
		user, err = tx.Users.Get(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	o.notifier.Notify(ctx, user.ID, models.NotifyAccount, title, message, "")
	return user, nil
}

// ProfileInput carries the fields a user may edit on their own profile. Nil
// fields are left unchanged.
type ProfileInput struct {
	Name                      *string  `json:"name"`
	AvatarURL                 *string  `json:"avatarUrl"`
	Skills                    []string `json:"skills"`
	Address                   *string  `json:"address"`
	Phone                     *string  `json:"phone"`
	BankInfo                  *string  `json:"bankInfo"`
	InvoiceRegistrationNumber *string  `json:"invoiceRegistrationNumber"`
}

func (in ProfileInput) record() (database.Record, error) {
	fields := database.Record{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
		}
		fields["name"] = name
	}
	if in.AvatarURL != nil {
		fields["avatarUrl"] = *in.AvatarURL
	}
	if in.Skills != nil {
		fields["skills"] = in.Skills
	}
	if in.Address != nil {
		fields["address"] = *in.Address
	}
	if in.Phone != nil {
		fields["phone"] = *in.Phone
	}
	if in.BankInfo != nil {
		info := strings.TrimSpace(*in.BankInfo)
		if strings.HasPrefix(info, "{") && !gjson.Valid(info) {
			return nil, fmt.Errorf("%w: bankInfo is not valid JSON", ErrInvalidInput)
		}
		fields["bankInfo"] = info
	}
	if in.InvoiceRegistrationNumber != nil {
		fields["invoiceRegistrationNumber"] = strings.TrimSpace(*in.InvoiceRegistrationNumber)
	}
	return fields, nil
}

// UpdateProfile edits the actor's own profile. Admins may edit any profile.
// Role, status and portal access are never changed here.
func (o *Orchestrator) UpdateProfile(ctx context.Context, actor *models.User, userID string, in ProfileInput) (user *models.User, err error) {
	started := time.Now()
	defer func() { o.finish(ctx, "update_profile", started, err, "プロフィールを更新しました", "プロフィールの更新に失敗しました") }()

	if actor == nil || (actor.ID != userID && !actor.IsAdmin()) {
		return nil, ErrForbidden
	}
	fields, err := in.record()
	if err != nil {
		return nil, err
	}
	if err := o.db.Users.Update(ctx, userID, fields); err != nil {
		return nil, err
	}
	return o.db.Users.Get(ctx, userID)
}

// GetUser returns a profile. Partners may only read their own.
func (o *Orchestrator) GetUser(ctx context.Context, actor *models.User, userID string) (*models.User, error) {
	if !actor.IsAdmin() && actor.ID != userID {
		return nil, ErrForbidden
	}
	return o.db.Users.Get(ctx, userID)
}

// ListPartners returns partner profiles for the admin.
func (o *Orchestrator) ListPartners(ctx context.Context, actor *models.User, status models.UserStatus) ([]models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return o.db.Users.Partners(ctx, status)
}
