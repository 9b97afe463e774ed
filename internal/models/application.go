package models

import (
	"context"
	"time"

	"bizmatch/internal/database"
)

// Application is a partner's bid on a project.
type Application struct {
	ID                 string            `json:"id"`
	ProjectID          string            `json:"projectId"`
	UserID             string            `json:"userId"`
	Status             ApplicationStatus `json:"status"`
	Message            string            `json:"message"`
	QuoteAmount        int64             `json:"quoteAmount,omitempty"`
	AvailableStartDate string            `json:"availableStartDate,omitempty"`
	IsRead             bool              `json:"isRead"`
	CreatedAt          time.Time         `json:"createdAt"`
}

// EffectiveStatus is the status shown to the partner. Applications left
// Applied on a project that stopped recruiting read as rejected.
func (a *Application) EffectiveStatus(project *Project) ApplicationStatus {
	if a.Status == ApplicationApplied && project != nil && project.Status != ProjectRecruiting {
		return ApplicationRejected
	}
	return a.Status
}

// ApplicationManager provides Django-like ORM methods for Application
type ApplicationManager struct {
	manager[Application]
}

// ExistsFor reports whether the partner already applied to the project.
func (m *ApplicationManager) ExistsFor(ctx context.Context, projectID, userID string) (bool, error) {
	return m.Exists(ctx, database.Record{"projectId": projectID, "userId": userID})
}

// ForProject returns a project's applications, oldest first.
func (m *ApplicationManager) ForProject(ctx context.Context, projectID string) ([]Application, error) {
	return m.Filter(ctx, database.Query{Filter: database.Record{"projectId": projectID}})
}

// ForUser returns a partner's applications, newest first.
func (m *ApplicationManager) ForUser(ctx context.Context, userID string) ([]Application, error) {
	return m.Filter(ctx, database.Query{Filter: database.Record{"userId": userID}, Descending: true})
}

func (m *ApplicationManager) MarkRead(ctx context.Context, id string) error {
	return m.Update(ctx, id, database.Record{"isRead": true})
}
