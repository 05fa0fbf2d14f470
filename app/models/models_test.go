package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	u, err := CreateUser("alice", "alice@example.com", "secret123", false)
	require.NoError(t, err)

	assert.Equal(t, STATUS_ACTIVE, u.Status)
	assert.False(t, u.IsAdmin)
	assert.True(t, u.EmailNotifications)
	assert.NotEqual(t, "secret123", u.Password)
	assert.True(t, u.CheckPassword("secret123"))
	assert.False(t, u.CheckPassword("wrong"))
}

func TestCreateUserRejectsInvalidInput(t *testing.T) {
	_, err := CreateUser("al", "alice@example.com", "secret123", false)
	assert.Error(t, err)

	_, err = CreateUser("alice", "not-an-email", "secret123", false)
	assert.Error(t, err)

	_, err = CreateUser("alice", "alice@example.com", "123", false)
	assert.Error(t, err)
}

func TestUserWantsEmail(t *testing.T) {
	u := &User{Email: "bob@example.com", Status: STATUS_ACTIVE, EmailNotifications: true}
	assert.True(t, u.WantsEmail())

	u.EmailNotifications = false
	assert.False(t, u.WantsEmail())

	u.EmailNotifications = true
	u.Status = STATUS_DISABLED
	assert.False(t, u.WantsEmail())
}

func TestSubscriptionRecordBeforeCreateAssignsID(t *testing.T) {
	r := &SubscriptionRecord{}
	require.NoError(t, r.BeforeCreate(nil))
	assert.Len(t, r.ID, 36)

	r2 := &SubscriptionRecord{ID: "fixed"}
	require.NoError(t, r2.BeforeCreate(nil))
	assert.Equal(t, "fixed", r2.ID)
}

func TestSubscriptionRecordIsOneTime(t *testing.T) {
	assert.True(t, (&SubscriptionRecord{}).IsOneTime())
	assert.True(t, (&SubscriptionRecord{ExternalSubscriptionRef: StringPtr("")}).IsOneTime())
	assert.False(t, (&SubscriptionRecord{ExternalSubscriptionRef: StringPtr("sub_1")}).IsOneTime())
}

func TestStatusAndPlanValidation(t *testing.T) {
	for _, s := range []string{"active", "trialing", "past_due", "canceled", "incomplete", "incomplete_expired", "unpaid"} {
		assert.True(t, ValidSubscriptionStatus(s), s)
	}
	assert.False(t, ValidSubscriptionStatus("paused"))
	assert.True(t, ValidPlanType(PlanTypeMonthly))
	assert.True(t, ValidPlanType(PlanTypeYearly))
	assert.False(t, ValidPlanType("weekly"))
}

func TestTopicValidate(t *testing.T) {
	topic := &Topic{Title: "Hello world", Body: "first", Category: CategoryGeneral}
	assert.NoError(t, topic.Validate())

	topic.Category = "random"
	assert.Error(t, topic.Validate())

	assert.False(t, topic.HasAcceptedAnswer())
	id := uint(3)
	topic.AcceptedCommentID = &id
	assert.True(t, topic.HasAcceptedAnswer())
}
