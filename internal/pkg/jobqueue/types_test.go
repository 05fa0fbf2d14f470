package jobqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEmailPayloadFromMap(t *testing.T) {
	in := SendEmailJobPayload{To: "a@example.com", Subject: "Hi", HTML: "<p>x</p>"}
	out, err := SendEmailJobPayloadFromMap(in.ToMap())
	require.NoError(t, err)
	assert.Equal(t, in, *out)
}

func TestReconcilePayloadSurvivesJSONStorage(t *testing.T) {
	job := Job{Payload: ReconcileSubscriptionJobPayload{ExternalSubscriptionRef: "sub_1", UserID: 42}.ToMap()}
	raw, err := json.Marshal(job)
	require.NoError(t, err)

	var stored Job
	require.NoError(t, json.Unmarshal(raw, &stored))
	// numbers come back as float64
	assert.IsType(t, float64(0), stored.Payload["user_id"])

	p, err := ReconcileSubscriptionJobPayloadFromMap(stored.Payload)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", p.ExternalSubscriptionRef)
	assert.Equal(t, uint(42), p.UserID)
}

func TestReconcilePayloadNeedsTarget(t *testing.T) {
	_, err := ReconcileSubscriptionJobPayloadFromMap(map[string]interface{}{})
	assert.Error(t, err)
}

func TestJobLifecycle(t *testing.T) {
	job := &Job{Status: JobStatusPending, MaxRetries: 2}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("boom")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)
	assert.False(t, job.IsRetryable())

	job.MarkAsFailed("boom again")
	assert.False(t, job.IsRetryable())

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	assert.NotNil(t, job.CompletedAt)
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(base))

	wrapped := fmt.Errorf("job x: %w", Permanent(base))
	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
}
