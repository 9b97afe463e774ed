package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bizmatch/internal/database"
	"bizmatch/internal/models"
)

type ProjectInput struct {
	Title          string   `json:"title" binding:"required"`
	Description    string   `json:"description"`
	Category       string   `json:"category"`
	Budget         int64    `json:"budget"`
	RequiredSkills []string `json:"requiredSkills"`
	Deadline       string   `json:"deadline"`
}

func (in ProjectInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Budget < 0 {
		return fmt.Errorf("%w: budget must not be negative", ErrInvalidInput)
	}
	if in.Deadline != "" {
		if _, err := time.Parse(time.DateOnly, in.Deadline); err != nil {
			return fmt.Errorf("%w: deadline must be YYYY-MM-DD", ErrInvalidInput)
		}
	}
	return nil
}

// CreateProject publishes a new project open for applications.
func (o *Orchestrator) CreateProject(ctx context.Context, actor *models.User, in ProjectInput) (project *models.Project, err error) {
	started := time.Now()
	defer func() { o.finish(ctx, "create_project", started, err, "案件を作成しました", "案件の作成に失敗しました") }()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	project = &models.Project{
		Title:          strings.TrimSpace(in.Title),
		Description:    in.Description,
		Category:       in.Category,
		Budget:         in.Budget,
		RequiredSkills: in.RequiredSkills,
		Deadline:       in.Deadline,
		Status:         models.ProjectRecruiting,
		CreatedAt:      o.now().UTC(),
	}
	if err := o.db.Projects.Create(ctx, project); err != nil {
		return nil, err
	}
	o.log.WithField("project_id", project.ID).Info("project created")
	return project, nil
}

// UpdateProject edits the descriptive fields of a project. Status and
// assignment only change through the lifecycle operations.
func (o *Orchestrator) UpdateProject(ctx context.Context, actor *models.User, projectID string, in ProjectInput) (project *models.Project, err error) {
	started := time.Now()
	defer func() { o.finish(ctx, "update_project", started, err, "案件を更新しました", "案件の更新に失敗しました") }()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	err = o.db.Transaction(ctx, func(tx *models.DB) error {
		current, err := tx.Projects.Lock(ctx, projectID)
		if err != nil {
			return err
		}
		if current.IsClosed() {
			return fmt.Errorf("project is %s: %w", current.Status, ErrInvalidTransition)
		}
		if err := tx.Projects.Update(ctx, current.ID, database.Record{
			"title":          strings.TrimSpace(in.Title),
			"description":    in.Description,
			"category":       in.Category,
			"budget":         in.Budget,
			"requiredSkills": in.RequiredSkills,
			"deadline":       in.Deadline,
		}); err != nil {
			return err
		}
		project, err = tx.Projects.Get(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// CancelProject withdraws a project that has not been completed. Pending
// applications are rejected and their applicants told.
func (o *Orchestrator) CancelProject(ctx context.Context, actor *models.User, projectID string) (project *models.Project, err error) {
	started := time.Now()
	defer func() { o.finish(ctx, "cancel_project", started, err, "案件を中止しました", "案件の中止に失敗しました") }()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var rejected []models.Application
	var assignee string
	err = o.db.Transaction(ctx, func(tx *models.DB) error {
		current, err := tx.Projects.Lock(ctx, projectID)
		if err != nil {
			return err
		}
		if current.IsClosed() {
			return fmt.Errorf("project is %s: %w", current.Status, ErrInvalidTransition)
		}
		assignee = current.AssignedToUserID
		if err := tx.Projects.Update(ctx, current.ID, database.Record{
			"status":           models.ProjectCancelled,
			"assignedToUserId": "",
		}); err != nil {
			return err
		}

		apps, err := tx.Applications.ForProject(ctx, current.ID)
		if err != nil {
			return err
		}
		for _, app := range apps {
			if app.Status != models.ApplicationApplied {
				continue
			}
			if err := tx.Applications.Update(ctx, app.ID, database.Record{"status": models.ApplicationRejected}); err != nil {
				return err
			}
			rejected = append(rejected, app)
		}
		project, err = tx.Projects.Get(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	link := models.ProjectLink(project.ID)
	for _, app := range rejected {
		o.notifier.Notify(ctx, app.UserID, models.NotifyRejected, "案件が中止されました",
			fmt.Sprintf("「%s」は募集を終了しました。", project.Title), link)
	}
	if assignee != "" {
		o.notifier.Notify(ctx, assignee, models.NotifyAccount, "案件が中止されました",
			fmt.Sprintf("担当中の「%s」が中止されました。", project.Title), link)
	}
	return project, nil
}

type ReviewInput struct {
	Score   int    `json:"score" binding:"required"`
	Comment string `json:"comment"`
}

// CompleteProject closes an in-progress project with the admin's review of
// the assigned partner.
func (o *Orchestrator) CompleteProject(ctx context.Context, actor *models.User, projectID string, in ReviewInput) (project *models.Project, err error) {
	started := time.Now()
	defer func() { o.finish(ctx, "complete_project", started, err, "案件を完了しました", "案件の完了処理に失敗しました") }()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if in.Score < 1 || in.Score > 5 {
		return nil, fmt.Errorf("%w: score must be between 1 and 5", ErrInvalidInput)
	}

	err = o.db.Transaction(ctx, func(tx *models.DB) error {
		current, err := tx.Projects.Lock(ctx, projectID)
		if err != nil {
			return err
		}
		if current.Status != models.ProjectInProgress {
			return fmt.Errorf("project is %s: %w", current.Status, ErrInvalidTransition)
		}
		review := models.Review{
			Score:     in.Score,
			Comment:   in.Comment,
			CreatedAt: dateString(o.today()),
		}
		if err := tx.Projects.Update(ctx, current.ID, database.Record{
			"status": models.ProjectCompleted,
			"review": review,
		}); err != nil {
			return err
		}
		project, err = tx.Projects.Get(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	o.notifier.Notify(ctx, project.AssignedToUserID, models.NotifyReview, "案件が完了しました",
		fmt.Sprintf("「%s」が完了し、評価（★%d）が登録されました。", project.Title, in.Score),
		models.ProjectLink(project.ID))
	return project, nil
}

// ListProjects returns the projects visible to actor. Partners see open
// projects and the ones they were hired for.
func (o *Orchestrator) ListProjects(ctx context.Context, actor *models.User, status models.ProjectStatus) ([]models.Project, error) {
	if actor.IsAdmin() {
		return o.db.Projects.List(ctx, status)
	}
	all, err := o.db.Projects.List(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]models.Project, 0, len(all))
	for _, p := range all {
		if p.Status == models.ProjectRecruiting || p.AssignedToUserID == actor.ID {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetProject returns one project if actor may see it.
func (o *Orchestrator) GetProject(ctx context.Context, actor *models.User, projectID string) (*models.Project, error) {
	project, err := o.db.Projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && project.Status != models.ProjectRecruiting && project.AssignedToUserID != actor.ID {
		applied, err := o.db.Applications.ExistsFor(ctx, project.ID, actor.ID)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, ErrForbidden
		}
	}
	return project, nil
}
