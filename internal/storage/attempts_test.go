package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceguard/internal/models"
)

func TestBuildAttemptWhereEmpty(t *testing.T) {
	where, args, next := buildAttemptWhere(models.AttemptFilter{})
	require.Empty(t, where)
	require.Empty(t, args)
	require.Equal(t, 1, next)
}

func TestBuildAttemptWhereAllFilters(t *testing.T) {
	user, org := uuid.New(), uuid.New()
	failed := false
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	where, args, next := buildAttemptWhere(models.AttemptFilter{
		UserID:  &user,
		OrgID:   &org,
		Type:    models.VerificationPIN,
		Success: &failed,
		From:    &from,
		To:      &to,
	})
	require.Equal(t,
		"WHERE user_id = $1 AND org_id = $2 AND verification_type = $3 AND success = $4 AND created_at >= $5 AND created_at <= $6",
		where)
	require.Equal(t, []any{user, org, "pin", false, from, to}, args)
	require.Equal(t, 7, next)
}

func TestBuildAttemptWhereSparse(t *testing.T) {
	org := uuid.New()
	ok := true
	where, args, next := buildAttemptWhere(models.AttemptFilter{OrgID: &org, Success: &ok})
	require.Equal(t, "WHERE org_id = $1 AND success = $2", where)
	require.Len(t, args, 2)
	require.Equal(t, 3, next)
}

func TestReferenceKey(t *testing.T) {
	id := uuid.MustParse("0b0f7a8e-3a77-4a8f-9b0e-7a1d2c3e4f50")
	require.Regexp(t, `^templates/0b0f7a8e-3a77-4a8f-9b0e-7a1d2c3e4f50/[0-9a-f-]{36}\.jpg$`, ReferenceKey(id, "image/jpeg"))
	require.Regexp(t, `\.png$`, ReferenceKey(id, "image/png"))
	require.Regexp(t, `\.jpg$`, ReferenceKey(id, ""))
}
