package realtime

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"bizmatch/internal/database"
	"bizmatch/internal/models"
)

// scope is the restriction applied to one live query.
type scope struct {
	filter database.Record
	// visible, when set, drops records after the read.
	visible func(database.Record) bool
}

var ownedByUser = map[string]string{
	database.CollectionApplications:  "userId",
	database.CollectionInvoices:      "userId",
	database.CollectionNotifications: "userId",
	database.CollectionUsers:         "id",
}

// scopeFor restricts a subscription to what user may read. Admins see every
// collection unrestricted; partners only their own records, recruiting or
// assigned projects, and their conversations.
func scopeFor(ctx context.Context, docs database.Documents, user *models.User, collection string, filter database.Record) (scope, error) {
	switch collection {
	case database.CollectionUsers, database.CollectionProjects, database.CollectionApplications,
		database.CollectionInvoices, database.CollectionMessages, database.CollectionNotifications:
	default:
		return scope{}, fmt.Errorf("unknown collection %q", collection)
	}

	f := maps.Clone(filter)
	if f == nil {
		f = database.Record{}
	}
	if user.IsAdmin() {
		return scope{filter: f}, nil
	}

	if field, ok := ownedByUser[collection]; ok {
		if v, set := f[field]; set && v != user.ID {
			return scope{}, ErrScope
		}
		f[field] = user.ID
		return scope{filter: f}, nil
	}

	switch collection {
	case database.CollectionProjects:
		return scope{filter: f, visible: func(r database.Record) bool {
			raw, _ := r["status"].(string)
			status, _ := models.ParseProjectStatus(raw)
			return status == models.ProjectRecruiting || r["assignedToUserId"] == user.ID
		}}, nil

	case database.CollectionMessages:
		if projectID, ok := f["projectId"].(string); ok && projectID != "" {
			rec, err := docs.GetRecord(ctx, database.CollectionProjects, projectID)
			if errors.Is(err, database.ErrNotFound) {
				return scope{}, ErrScope
			}
			if err != nil {
				return scope{}, err
			}
			if rec["assignedToUserId"] != user.ID {
				return scope{}, ErrScope
			}
			return scope{filter: f}, nil
		}
		if f["senderId"] == user.ID || f["receiverId"] == user.ID {
			return scope{filter: f}, nil
		}
		return scope{filter: f, visible: func(r database.Record) bool {
			return r["senderId"] == user.ID || r["receiverId"] == user.ID
		}}, nil
	}
	return scope{}, ErrScope
}
