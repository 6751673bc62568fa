package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceguard/internal/models"
)

func TestSecuritySubject(t *testing.T) {
	org := uuid.MustParse("5a1c9a1e-8d2b-4f5e-9c7d-1a2b3c4d5e6f")
	require.Equal(t, "security.5a1c9a1e-8d2b-4f5e-9c7d-1a2b3c4d5e6f", SecuritySubject(org))
}

func TestStreamConfigsCoverSubjects(t *testing.T) {
	byName := map[string]jetstream.StreamConfig{}
	for _, c := range streamConfigs() {
		byName[c.Name] = c
	}
	require.Equal(t, []string{"security.>"}, byName[SecurityStreamName].Subjects)
	require.Equal(t, []string{AuditRetrySubject}, byName[AuditStreamName].Subjects)
	require.Equal(t, jetstream.WorkQueuePolicy, byName[AuditStreamName].Retention)
}

func TestDecodeRoundTrip(t *testing.T) {
	user := uuid.New()
	ev := models.SecurityEvent{
		ID:       uuid.New(),
		Kind:     models.EventSuspiciousActivity,
		Type:     "impossible_travel",
		OrgID:    uuid.New(),
		UserID:   &user,
		Severity: models.SeverityHigh,
		Metadata: json.RawMessage(`{"distance_km":201.4}`),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	got, err := DecodeSecurityEvent(data)
	require.NoError(t, err)
	require.Equal(t, ev.ID, got.ID)
	require.Equal(t, user, *got.UserID)
	require.JSONEq(t, `{"distance_km":201.4}`, string(got.Metadata))

	_, err = DecodeSecurityEvent([]byte("{"))
	require.Error(t, err)

	a := models.Attempt{ID: uuid.New(), Type: models.VerificationPIN, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	data, err = json.Marshal(a)
	require.NoError(t, err)
	back, err := DecodeAttempt(data)
	require.NoError(t, err)
	require.Equal(t, a.ID, back.ID)
	require.True(t, a.CreatedAt.Equal(back.CreatedAt))
}
