package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bizmatch/internal/database"
)

var ErrAssignmentMismatch = errors.New("assignedToUserId must be set exactly when the project is in progress or completed")

// Review is the Admin's rating of a completed project.
type Review struct {
	Score     int    `json:"score"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"createdAt"`
}

type Project struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	Category         string        `json:"category,omitempty"`
	Budget           int64         `json:"budget"`
	RequiredSkills   []string      `json:"requiredSkills,omitempty"`
	Status           ProjectStatus `json:"status"`
	AssignedToUserID string        `json:"assignedToUserId,omitempty"`
	Review           *Review       `json:"review,omitempty"`
	Deadline         string        `json:"deadline,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// CheckAssignment verifies that an assignee is present exactly in the
// in-progress and completed states.
func (p *Project) CheckAssignment() error {
	assignedState := p.Status == ProjectInProgress || p.Status == ProjectCompleted
	if assignedState != (p.AssignedToUserID != "") {
		return fmt.Errorf("project %s (%s): %w", p.ID, p.Status, ErrAssignmentMismatch)
	}
	return nil
}

// IsClosed reports whether the project no longer changes state.
func (p *Project) IsClosed() bool {
	return p.Status == ProjectCompleted || p.Status == ProjectCancelled
}

// ProjectManager provides Django-like ORM methods for Project
type ProjectManager struct {
	manager[Project]
}

// List returns projects newest first, optionally restricted to one status.
func (m *ProjectManager) List(ctx context.Context, status ProjectStatus) ([]Project, error) {
	return m.Where(ctx, database.Query{Descending: true}, func(p *Project) bool {
		return status == "" || p.Status == status
	})
}

// AssignedTo returns the projects a partner has been hired for.
func (m *ProjectManager) AssignedTo(ctx context.Context, userID string) ([]Project, error) {
	return m.Filter(ctx, database.Query{
		Filter:     database.Record{"assignedToUserId": userID},
		Descending: true,
	})
}
