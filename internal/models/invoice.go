package models

import (
	"context"
	"time"

	"bizmatch/internal/database"
)

// PendingIssueDate marks an invoice stub that has not been issued yet.
const PendingIssueDate = "-"

type Invoice struct {
	ID                string        `json:"id"`
	ProjectID         string        `json:"projectId"`
	UserID            string        `json:"userId"`
	Amount            int64         `json:"amount"`
	IssueDate         string        `json:"issueDate"`
	PaymentDeadline   string        `json:"paymentDeadline,omitempty"`
	Status            InvoiceStatus `json:"status"`
	PDFURL            string        `json:"pdfUrl,omitempty"`
	OverdueNotifiedAt *time.Time    `json:"overdueNotifiedAt,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// InvoiceManager provides Django-like ORM methods for Invoice
type InvoiceManager struct {
	manager[Invoice]
}

// List returns invoices newest first, optionally restricted to one owner.
func (m *InvoiceManager) List(ctx context.Context, userID string) ([]Invoice, error) {
	q := database.Query{Descending: true}
	if userID != "" {
		q.Filter = database.Record{"userId": userID}
	}
	return m.Filter(ctx, q)
}

// ForProject returns the invoices raised for one project.
func (m *InvoiceManager) ForProject(ctx context.Context, projectID string) ([]Invoice, error) {
	return m.Filter(ctx, database.Query{Filter: database.Record{"projectId": projectID}})
}

// WithStatus returns every invoice in the given status.
func (m *InvoiceManager) WithStatus(ctx context.Context, status InvoiceStatus) ([]Invoice, error) {
	return m.Where(ctx, database.Query{}, func(inv *Invoice) bool { return inv.Status == status })
}
