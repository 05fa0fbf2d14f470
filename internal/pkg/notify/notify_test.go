package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ForumFox/app/models"
	"github.com/ManuelReschke/ForumFox/app/repository"
	"github.com/ManuelReschke/ForumFox/internal/pkg/mail"
)

type userStub struct {
	repository.UserRepository
	users map[uint]*models.User
}

func (u *userStub) GetByID(id uint) (*models.User, error) {
	if user, ok := u.users[id]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type notificationStub struct {
	repository.NotificationRepository
	created []models.Notification
}

func (n *notificationStub) Create(x *models.Notification) error {
	n.created = append(n.created, *x)
	return nil
}

type senderStub struct {
	sent []mail.Message
	err  error
}

func (s *senderStub) Send(_ context.Context, msg mail.Message) error {
	s.sent = append(s.sent, msg)
	return s.err
}

func fixture(emailOptIn bool) (*Notifier, *notificationStub, *senderStub) {
	users := &userStub{users: map[uint]*models.User{
		1: {ID: 1, Name: "author", Email: "author@example.com", Status: models.STATUS_ACTIVE, EmailNotifications: emailOptIn},
		2: {ID: 2, Name: "helper", Email: "helper@example.com", Status: models.STATUS_ACTIVE, EmailNotifications: emailOptIn},
	}}
	notes := &notificationStub{}
	sender := &senderStub{}
	return New(users, notes, sender, "https://forum.example/", nil), notes, sender
}

func TestCommentAddedNotifiesAuthor(t *testing.T) {
	n, notes, sender := fixture(true)
	topic := &models.Topic{ID: 10, UserID: 1, Title: "Help <me>"}
	comment := &models.Comment{ID: 5, TopicID: 10, UserID: 2, Content: "try <b>this</b>"}

	require.NoError(t, n.CommentAdded(context.Background(), topic, comment, "helper"))

	require.Len(t, notes.created, 1)
	assert.Equal(t, uint(1), notes.created[0].UserID)
	assert.Equal(t, models.NotificationTypeComment, notes.created[0].Type)
	assert.Equal(t, uint(10), notes.created[0].ReferenceID)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "author@example.com", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].HTML, "https://forum.example/topics/10")
	assert.Contains(t, sender.sent[0].HTML, "try &lt;b&gt;this&lt;/b&gt;")
}

func TestCommentAddedRespectsEmailPreference(t *testing.T) {
	n, notes, sender := fixture(false)
	topic := &models.Topic{ID: 10, UserID: 1, Title: "Help"}
	comment := &models.Comment{TopicID: 10, UserID: 2, Content: "hi"}

	require.NoError(t, n.CommentAdded(context.Background(), topic, comment, "helper"))
	assert.Len(t, notes.created, 1)
	assert.Empty(t, sender.sent)
}

func TestOwnCommentDoesNotNotify(t *testing.T) {
	n, notes, sender := fixture(true)
	topic := &models.Topic{ID: 10, UserID: 1, Title: "Help"}
	comment := &models.Comment{TopicID: 10, UserID: 1, Content: "bump"}

	require.NoError(t, n.CommentAdded(context.Background(), topic, comment, "author"))
	assert.Empty(t, notes.created)
	assert.Empty(t, sender.sent)
}

func TestAnswerAcceptedNotifiesCommentAuthor(t *testing.T) {
	n, notes, sender := fixture(true)
	topic := &models.Topic{ID: 10, UserID: 1, Title: "Help"}
	comment := &models.Comment{ID: 5, TopicID: 10, UserID: 2}

	require.NoError(t, n.AnswerAccepted(context.Background(), topic, comment))
	require.Len(t, notes.created, 1)
	assert.Equal(t, uint(2), notes.created[0].UserID)
	assert.Equal(t, models.NotificationTypeAnswerAccepted, notes.created[0].Type)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "helper@example.com", sender.sent[0].To)
}

func TestBillingMailIgnoresPreference(t *testing.T) {
	n, notes, sender := fixture(false)
	require.NoError(t, n.BillingChanged(context.Background(), 1, BillingCancelled))
	require.Len(t, notes.created, 1)
	assert.Equal(t, models.NotificationTypeBilling, notes.created[0].Type)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].HTML, "https://forum.example/billing/status")

	assert.Error(t, n.BillingChanged(context.Background(), 1, "refund"))
}

func TestSendFailureKeepsNotification(t *testing.T) {
	n, notes, sender := fixture(true)
	sender.err = errors.New("provider down")
	require.NoError(t, n.BillingChanged(context.Background(), 2, BillingCheckoutCompleted))
	assert.Len(t, notes.created, 1)
}

func TestUnknownRecipient(t *testing.T) {
	n, notes, _ := fixture(true)
	err := n.BillingChanged(context.Background(), 99, BillingCheckoutCompleted)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Empty(t, notes.created)
}
