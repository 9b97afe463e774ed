package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"bizmatch/internal/database"
	"bizmatch/internal/models"
)

type ApplyInput struct {
	ProjectID          string `json:"-"`
	Message            string `json:"message"`
	QuoteAmount        int64  `json:"quoteAmount"`
	AvailableStartDate string `json:"availableStartDate"`
}

// Apply records an active partner's bid on a recruiting project and tells
// the admins about it. A partner can apply to a project once.
func (o *Orchestrator) Apply(ctx context.Context, actor *models.User, in ApplyInput) (app *models.Application, err error) {
	started := time.Now()
	defer func() { o.finish(ctx, "apply", started, err, "応募を送信しました", "応募に失敗しました") }()

	if err := requireActivePartner(actor); err != nil {
		return nil, err
	}
	if in.QuoteAmount < 0 {
		return nil, fmt.Errorf("%w: quoteAmount must not be negative", ErrInvalidInput)
	}

	project, err := o.db.Projects.Get(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.Status != models.ProjectRecruiting {
		return nil, ErrProjectNotRecruiting
	}
	exists, err := o.db.Applications.ExistsFor(ctx, project.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateApplication
	}

	today := o.today()
	startDate := in.AvailableStartDate
	if startDate == "" {
		startDate = dateString(today)
	}
	app = &models.Application{
		ProjectID:          project.ID,
		UserID:             actor.ID,
		Status:             models.ApplicationApplied,
		Message:            in.Message,
		QuoteAmount:        in.QuoteAmount,
		AvailableStartDate: startDate,
		IsRead:             false,
		CreatedAt:          o.now().UTC(),
	}
	if err := o.db.Applications.Create(ctx, app); err != nil {
		// The unique index catches concurrent duplicates.
		if errors.Is(err, database.ErrConflict) {
			return nil, ErrDuplicateApplication
		}
		return nil, err
	}

	o.notifier.NotifyAdmins(ctx, models.NotifyApplication, "新しい応募がありました",
		fmt.Sprintf("%s さんが「%s」に応募しました。", actor.Name, project.Title),
		models.ProjectLink(project.ID))
	return app, nil
}

type HireInput struct {
	ProjectID     string `json:"-"`
	ApplicationID string `json:"applicationId" binding:"required"`
	// PartnerID is optional; when set it must match the application.
	PartnerID string `json:"partnerId"`
}

type HireResult struct {
	Project     *models.Project      `json:"project"`
	Application *models.Application  `json:"application"`
	Invoice     *models.Invoice      `json:"invoice"`
	Rejected    []models.Application `json:"rejected"`
}

// Hire selects one application for a recruiting project. In a single
// transaction the project moves to in progress with the partner assigned, the
// application becomes hired, every other pending application is rejected and
// an unbilled invoice stub is created.
func (o *Orchestrator) Hire(ctx context.Context, actor *models.User, in HireInput) (res *HireResult, err error) {
	started := time.Now()
	defer func() { o.finish(ctx, "hire", started, err, "パートナーを採用しました", "採用処理に失敗しました") }()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	err = o.db.Transaction(ctx, func(tx *models.DB) error {
		project, err := tx.Projects.Lock(ctx, in.ProjectID)
		if err != nil {
			return err
		}
		if project.Status != models.ProjectRecruiting {
			return ErrProjectNotRecruiting
		}
		app, err := tx.Applications.Lock(ctx, in.ApplicationID)
		if err != nil {
			return err
		}
		if app.ProjectID != project.ID {
			return fmt.Errorf("%w: application %s belongs to another project", ErrInvalidInput, app.ID)
		}
		if in.PartnerID != "" && in.PartnerID != app.UserID {
			return fmt.Errorf("%w: application %s was not made by %s", ErrInvalidInput, app.ID, in.PartnerID)
		}
		if app.Status != models.ApplicationApplied {
			return fmt.Errorf("application is %s: %w", app.Status, ErrInvalidTransition)
		}

		if err := tx.Projects.Update(ctx, project.ID, database.Record{
			"status":           models.ProjectInProgress,
			"assignedToUserId": app.UserID,
		}); err != nil {
			return err
		}
		project.Status = models.ProjectInProgress
		project.AssignedToUserID = app.UserID

		if err := tx.Applications.Update(ctx, app.ID, database.Record{"status": models.ApplicationHired}); err != nil {
			return err
		}
		app.Status = models.ApplicationHired

		others, err := tx.Applications.ForProject(ctx, project.ID)
		if err != nil {
			return err
		}
		var rejected []models.Application
		for _, other := range others {
			if other.ID == app.ID || other.Status != models.ApplicationApplied {
				continue
			}
			if err := tx.Applications.Update(ctx, other.ID, database.Record{"status": models.ApplicationRejected}); err != nil {
				return err
			}
			other.Status = models.ApplicationRejected
			rejected = append(rejected, other)
		}

		amount := app.QuoteAmount
		if amount <= 0 {
			amount = project.Budget
		}
		invoice := &models.Invoice{
			ProjectID: project.ID,
			UserID:    app.UserID,
			Amount:    amount,
			IssueDate: models.PendingIssueDate,
			Status:    models.InvoiceUnbilled,
			CreatedAt: o.now().UTC(),
		}
		if err := tx.Invoices.Create(ctx, invoice); err != nil {
			return err
		}

		res = &HireResult{Project: project, Application: app, Invoice: invoice, Rejected: rejected}
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.log.WithFields(logrus.Fields{
		"project_id": res.Project.ID,
		"partner_id": res.Application.UserID,
		"invoice_id": res.Invoice.ID,
		"rejected":   len(res.Rejected),
	}).Info("partner hired")

	link := models.ProjectLink(res.Project.ID)
	o.notifier.Notify(ctx, res.Application.UserID, models.NotifyHired, "案件に採用されました",
		fmt.Sprintf("「%s」に採用されました。", res.Project.Title), link)
	for _, r := range res.Rejected {
		o.notifier.Notify(ctx, r.UserID, models.NotifyRejected, "選考結果のお知らせ",
			fmt.Sprintf("「%s」は別のパートナーに決定しました。", res.Project.Title), link)
	}
	return res, nil
}

// ApplicationView is an application as shown to its reader: partners see
// the effective status.
type ApplicationView struct {
	models.Application
	Applicant *models.User `json:"applicant,omitempty"`
}

// ListApplications returns a project's applications. Admins see every
// application with the applicant's profile; partners only see their own.
func (o *Orchestrator) ListApplications(ctx context.Context, actor *models.User, projectID string) ([]ApplicationView, error) {
	project, err := o.db.Projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	apps, err := o.db.Applications.ForProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	out := make([]ApplicationView, 0, len(apps))
	for _, app := range apps {
		if !actor.IsAdmin() {
			if app.UserID != actor.ID {
				continue
			}
			app.Status = app.EffectiveStatus(project)
			out = append(out, ApplicationView{Application: app})
			continue
		}
		view := ApplicationView{Application: app}
		if applicant, err := o.db.Users.Get(ctx, app.UserID); err == nil {
			view.Applicant = applicant
		}
		out = append(out, view)
	}
	return out, nil
}

// MyApplications returns the partner's applications with effective status.
func (o *Orchestrator) MyApplications(ctx context.Context, actor *models.User) ([]models.Application, error) {
	apps, err := o.db.Applications.ForUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	for i := range apps {
		if p, err := o.db.Projects.Get(ctx, apps[i].ProjectID); err == nil {
			apps[i].Status = apps[i].EffectiveStatus(p)
		}
	}
	return apps, nil
}

// MarkApplicationRead flags an application as seen by the admin.
func (o *Orchestrator) MarkApplicationRead(ctx context.Context, actor *models.User, applicationID string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return o.db.Applications.MarkRead(ctx, applicationID)
}
