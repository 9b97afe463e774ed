// Package models provides the portal's entities and Django-like managers over
// the document store collections.
package models

import (
	"context"
	"strings"

	"bizmatch/internal/database"
)

// DB holds the document store and all model managers
type DB struct {
	docs    database.Documents
	runInTx func(ctx context.Context, fn func(database.Documents) error) error

	Users         *UserManager
	Projects      *ProjectManager
	Applications  *ApplicationManager
	Invoices      *InvoiceManager
	Messages      *MessageManager
	Notifications *NotificationManager
}

// NewDB wraps a database service with managers.
func NewDB(svc database.Service) *DB {
	return newDB(svc, svc.RunInTx)
}

func newDB(docs database.Documents, runInTx func(context.Context, func(database.Documents) error) error) *DB {
	return &DB{
		docs:          docs,
		runInTx:       runInTx,
		Users:         &UserManager{manager[User]{docs, database.CollectionUsers}},
		Projects:      &ProjectManager{manager[Project]{docs, database.CollectionProjects}},
		Applications:  &ApplicationManager{manager[Application]{docs, database.CollectionApplications}},
		Invoices:      &InvoiceManager{manager[Invoice]{docs, database.CollectionInvoices}},
		Messages:      &MessageManager{manager[Message]{docs, database.CollectionMessages}},
		Notifications: &NotificationManager{manager[Notification]{docs, database.CollectionNotifications}},
	}
}

// Transaction runs a function within a database transaction. Calls nested
// inside an open transaction reuse it.
func (db *DB) Transaction(ctx context.Context, fn func(*DB) error) error {
	if db.runInTx == nil {
		return fn(db)
	}
	return db.runInTx(ctx, func(tx database.Documents) error {
		return fn(newDB(tx, nil))
	})
}

// Link is a tagged client-side routing reference carried by notifications.
type Link string

const (
	LinkDM       Link = "DM"
	LinkInvoices Link = "INVOICES"

	projectLinkPrefix = "PROJECT:"
)

func ProjectLink(projectID string) Link {
	return Link(projectLinkPrefix + projectID)
}

// ProjectID extracts the project id from a PROJECT:<id> link.
func (l Link) ProjectID() (string, bool) {
	id, ok := strings.CutPrefix(string(l), projectLinkPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
