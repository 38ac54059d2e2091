package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun_Every(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	next, err := NextRun(Every(time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), next)
}

func TestNextRun_EveryWithAnchor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 42, 0, time.UTC)
	anchor := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	schedule := Every(time.Hour)
	schedule.Anchor = &anchor

	next, err := NextRun(schedule, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), next)
}

func TestNextRun_EveryWithFutureAnchor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	anchor := now.Add(time.Hour)

	schedule := Every(time.Minute)
	schedule.Anchor = &anchor

	next, err := NextRun(schedule, now)
	require.NoError(t, err)
	assert.Equal(t, anchor, next)
}

func TestNextRun_EveryRejectsZeroInterval(t *testing.T) {
	_, err := NextRun(Every(0), time.Now())
	assert.Error(t, err)
}

func TestNextRun_At(t *testing.T) {
	target := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

	next, err := NextRun(At(target), time.Now())
	require.NoError(t, err)
	assert.True(t, next.Equal(target))
}

func TestNextRun_AtRejectsBadTimestamp(t *testing.T) {
	_, err := NextRun(Schedule{Kind: ScheduleKindAt, At: "not a time"}, time.Now())
	assert.Error(t, err)
}

func TestNextRun_Cron(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 2, 30, 0, time.UTC)

	next, err := NextRun(Expr("*/5 * * * *"), now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC), next)
}

func TestNextRun_CronRejectsBadExpr(t *testing.T) {
	_, err := NextRun(Expr("not a cron expr"), time.Now())
	assert.Error(t, err)
}

func TestNextRun_CronRejectsBadTimezone(t *testing.T) {
	schedule := Expr("0 * * * *")
	schedule.TZ = "Mars/Olympus_Mons"

	_, err := NextRun(schedule, time.Now())
	assert.Error(t, err)
}

func TestNextRun_UnknownKind(t *testing.T) {
	_, err := NextRun(Schedule{Kind: "sometimes"}, time.Now())
	assert.Error(t, err)
}
