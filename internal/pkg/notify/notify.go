package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/mail"
)

const (
	BillingCheckoutCompleted = "checkout_completed"
	BillingCancelled         = "cancelled"
	BillingAutoRenewChanged  = "auto_renew_changed"
)

// Notifier writes in-app notifications and sends the matching emails.
type Notifier struct {
	users         repository.UserRepository
	notifications repository.NotificationRepository
	sender        mail.Sender
	baseURL       string
	log           *zap.Logger
}

func New(users repository.UserRepository, notifications repository.NotificationRepository, sender mail.Sender, baseURL string, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		users:         users,
		notifications: notifications,
		sender:        sender,
		baseURL:       strings.TrimRight(baseURL, "/"),
		log:           log,
	}
}

func (n *Notifier) topicURL(topicID uint) string {
	return fmt.Sprintf("%s/topics/%d", n.baseURL, topicID)
}

// CommentAdded tells the topic author about a new comment. Comments on
// one's own topic produce nothing.
func (n *Notifier) CommentAdded(ctx context.Context, topic *models.Topic, comment *models.Comment, commenter string) error {
	if topic == nil || comment == nil || topic.UserID == comment.UserID {
		return nil
	}
	content := fmt.Sprintf("%s commented on your topic %q", commenter, topic.Title)
	subject := fmt.Sprintf("New comment on %q", topic.Title)
	body := fmt.Sprintf("<p>%s commented on <a href=\"%s\">%s</a>:</p><blockquote>%s</blockquote>",
		html.EscapeString(commenter), n.topicURL(topic.ID), html.EscapeString(topic.Title), html.EscapeString(comment.Content))
	return n.notifyUser(ctx, topic.UserID, models.NotificationTypeComment, content, topic.ID, subject, body, true)
}

// AnswerAccepted tells the comment author that their answer was accepted.
func (n *Notifier) AnswerAccepted(ctx context.Context, topic *models.Topic, comment *models.Comment) error {
	if topic == nil || comment == nil || topic.UserID == comment.UserID {
		return nil
	}
	content := fmt.Sprintf("Your answer on %q was accepted", topic.Title)
	body := fmt.Sprintf("<p>Your answer on <a href=\"%s\">%s</a> was accepted.</p>",
		n.topicURL(topic.ID), html.EscapeString(topic.Title))
	return n.notifyUser(ctx, comment.UserID, models.NotificationTypeAnswerAccepted, content, topic.ID, content, body, true)
}

// BillingChanged informs a user about a change of their subscription.
// Billing mail is transactional and ignores the notification preference.
func (n *Notifier) BillingChanged(ctx context.Context, userID uint, event string) error {
	var content string
	switch event {
	case BillingCheckoutCompleted:
		content = "Thank you! Your subscription is active."
	case BillingCancelled:
		content = "Your subscription will end at the close of the current period."
	case BillingAutoRenewChanged:
		content = "Your subscription renewal setting was updated."
	default:
		return fmt.Errorf("unknown billing event %q", event)
	}
	body := fmt.Sprintf("<p>%s</p><p><a href=\"%s/billing/status\">Manage your subscription</a></p>",
		html.EscapeString(content), n.baseURL)
	return n.notifyUser(ctx, userID, models.NotificationTypeBilling, content, 0, "Your ForumFox subscription", body, false)
}

func (n *Notifier) notifyUser(ctx context.Context, userID uint, kind, content string, refID uint, subject, body string, respectPreference bool) error {
	user, err := n.users.GetByID(userID)
	if err != nil {
		return fmt.Errorf("load recipient %d: %w", userID, err)
	}

	if err := n.notifications.Create(&models.Notification{
		UserID:      userID,
		Type:        kind,
		Content:     content,
		ReferenceID: refID,
	}); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	if !shouldEmail(user, respectPreference) || n.sender == nil {
		return nil
	}
	if err := n.sender.Send(ctx, mail.Message{To: user.Email, Subject: subject, HTML: body}); err != nil {
		// The in-app notification already exists.
		n.log.Warn("notification email failed", zap.Uint("user_id", userID), zap.String("type", kind), zap.Error(err))
	}
	return nil
}

func shouldEmail(u *models.User, respectPreference bool) bool {
	if respectPreference {
		return u.WantsEmail()
	}
	return u.Email != "" && u.IsActive()
}
