package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bizmatch/internal/models"
)

type MessageInput struct {
	ProjectID  string             `json:"projectId"`
	ReceiverID string             `json:"receiverId"`
	Content    string             `json:"content"`
	Attachment *models.Attachment `json:"attachment"`
}

// SendMessage posts either to a project thread or directly to one user and
// notifies the other side.
func (o *Orchestrator) SendMessage(ctx context.Context, actor *models.User, in MessageInput) (msg *models.Message, err error) {
	started := time.Now()
	defer func() { o.finish(ctx, "send_message", started, err, "", "メッセージの送信に失敗しました") }()

	if actor == nil {
		return nil, ErrForbidden
	}
	msg = &models.Message{
		ProjectID:  in.ProjectID,
		SenderID:   actor.ID,
		ReceiverID: in.ReceiverID,
		Content:    strings.TrimSpace(in.Content),
		Attachment: in.Attachment,
		CreatedAt:  o.now().UTC(),
	}
	if err := msg.CheckRouting(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if msg.Content == "" && msg.Attachment == nil {
		return nil, fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}

	recipients, link, err := o.messageRecipients(ctx, actor, msg)
	if err != nil {
		return nil, err
	}
	if err := o.db.Messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	preview := msg.Content
	if r := []rune(preview); len(r) > 50 {
		preview = string(r[:50]) + "…"
	}
	if preview == "" {
		preview = "ファイルが送信されました"
	}
	title := fmt.Sprintf("%s さんからメッセージ", actor.Name)
	for _, userID := range recipients {
		o.notifier.Notify(ctx, userID, models.NotifyMessage, title, preview, link)
	}
	return msg, nil
}

// messageRecipients resolves who is told about msg. Partners may only write
// to admins directly, or into threads of projects they are assigned to.
func (o *Orchestrator) messageRecipients(ctx context.Context, actor *models.User, msg *models.Message) ([]string, models.Link, error) {
	if msg.IsDirect() {
		receiver, err := o.db.Users.Get(ctx, msg.ReceiverID)
		if err != nil {
			return nil, "", err
		}
		if !actor.IsAdmin() && !receiver.IsAdmin() {
			return nil, "", ErrForbidden
		}
		return []string{receiver.ID}, models.LinkDM, nil
	}

	project, err := o.db.Projects.Get(ctx, msg.ProjectID)
	if err != nil {
		return nil, "", err
	}
	link := models.ProjectLink(project.ID)
	if !actor.IsAdmin() {
		if project.AssignedToUserID != actor.ID {
			return nil, "", ErrForbidden
		}
		admins, err := o.db.Users.Admins(ctx)
		if err != nil {
			return nil, "", err
		}
		ids := make([]string, 0, len(admins))
		for _, a := range admins {
			ids = append(ids, a.ID)
		}
		return ids, link, nil
	}
	if project.AssignedToUserID == "" {
		return nil, link, nil
	}
	return []string{project.AssignedToUserID}, link, nil
}

// ProjectThread returns a project's messages, oldest first.
func (o *Orchestrator) ProjectThread(ctx context.Context, actor *models.User, projectID string) ([]models.Message, error) {
	project, err := o.db.Projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && project.AssignedToUserID != actor.ID {
		return nil, ErrForbidden
	}
	return o.db.Messages.ForProject(ctx, project.ID)
}

// Conversation returns the direct messages between actor and peerID.
func (o *Orchestrator) Conversation(ctx context.Context, actor *models.User, peerID string) ([]models.Message, error) {
	return o.db.Messages.Conversation(ctx, actor.ID, peerID)
}

// Inbox returns the direct messages addressed to actor.
func (o *Orchestrator) Inbox(ctx context.Context, actor *models.User) ([]models.Message, error) {
	return o.db.Messages.Inbox(ctx, actor.ID)
}

// MarkMessageRead flags a message as read by its receiver. Project thread
// messages may be marked by anyone on the thread other than the sender.
func (o *Orchestrator) MarkMessageRead(ctx context.Context, actor *models.User, messageID string) error {
	msg, err := o.db.Messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	switch {
	case msg.SenderID == actor.ID:
		return ErrForbidden
	case msg.IsDirect() && msg.ReceiverID != actor.ID:
		return ErrForbidden
	case !msg.IsDirect() && !actor.IsAdmin():
		project, err := o.db.Projects.Get(ctx, msg.ProjectID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		if project == nil || project.AssignedToUserID != actor.ID {
			return ErrForbidden
		}
	}
	return o.db.Messages.MarkRead(ctx, msg.ID)
}
