// Package workflow implements the project, application and invoice lifecycle
// of the portal along with the admin and partner operations around it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bizmatch/internal/config"
	"bizmatch/internal/metrics"
	"bizmatch/internal/models"
	"bizmatch/internal/notify"
	"bizmatch/internal/storage"
	"bizmatch/internal/toast"
)

var (
	ErrForbidden            = errors.New("operation not permitted for this user")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrProjectNotRecruiting = fmt.Errorf("project is not recruiting: %w", ErrInvalidTransition)
	ErrDuplicateApplication = errors.New("partner already applied to this project")
	ErrPartnerNotActive     = errors.New("partner account is not active")
	ErrGenerationFailed     = errors.New("invoice generation failed")
	ErrInvoicePaid          = fmt.Errorf("invoice already paid: %w", ErrInvalidTransition)
)

// Orchestrator runs the multi-record operations of the portal. Each
// operation commits its writes atomically and only then notifies.
type Orchestrator struct {
	db        *models.DB
	notifier  *notify.Dispatcher
	generator Generator
	pdfs      *storage.InvoiceStore
	billing   config.Billing
	loc       *time.Location
	now       func() time.Time
	log       logrus.FieldLogger
}

type Options struct {
	Billing  config.Billing
	Location *time.Location
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func NewOrchestrator(db *models.DB, notifier *notify.Dispatcher, generator Generator, pdfs *storage.InvoiceStore, opts Options, log logrus.FieldLogger) *Orchestrator {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		db:        db,
		notifier:  notifier,
		generator: generator,
		pdfs:      pdfs,
		billing:   opts.Billing,
		loc:       opts.Location,
		now:       opts.Now,
		log:       log,
	}
}

// today returns the current date in the business timezone.
func (o *Orchestrator) today() time.Time {
	return o.now().In(o.loc)
}

func dateString(t time.Time) string {
	return t.Format(time.DateOnly)
}

// finish records the outcome of an operation and raises the acting user's
// toast.
func (o *Orchestrator) finish(ctx context.Context, operation string, started time.Time, err error, success, failure string) {
	metrics.RecordOperation(operation, started, err)
	if err != nil {
		o.log.WithError(err).WithField("operation", operation).Warn("workflow operation failed")
		if failure != "" {
			o.notifier.Toast(ctx, toast.KindError, failure)
		}
		return
	}
	if success != "" {
		o.notifier.Toast(ctx, toast.KindSuccess, success)
	}
}

func requireAdmin(actor *models.User) error {
	if actor == nil || !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func requireActivePartner(actor *models.User) error {
	if actor == nil || actor.Role != models.RolePartner {
		return ErrForbidden
	}
	if actor.Status != models.UserActive {
		return ErrPartnerNotActive
	}
	return nil
}

func formatYen(amount int64) string {
	s := fmt.Sprintf("%d", amount)
	neg := false
	if amount < 0 {
		neg = true
		s = s[1:]
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-¥" + string(out)
	}
	return "¥" + string(out)
}
