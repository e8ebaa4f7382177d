package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingScheduling, StatusScheduled, true},
		{StatusPendingScheduling, StatusCancelled, true},
		{StatusPendingScheduling, StatusConfirmed, false},
		{StatusPendingScheduling, StatusCompleted, false},
		{StatusScheduled, StatusConfirmed, true},
		{StatusScheduled, StatusScheduled, true},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusConfirmed, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusNoShow, StatusConfirmed, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSourcesFor(t *testing.T) {
	assert.ElementsMatch(t, []Status{StatusScheduled}, SourcesFor(StatusConfirmed))
	assert.ElementsMatch(t, []Status{StatusPendingScheduling, StatusScheduled, StatusConfirmed}, SourcesFor(StatusCancelled))
	assert.ElementsMatch(t, []Status{StatusScheduled, StatusConfirmed}, SourcesFor(StatusCompleted))
}

func TestOverlaps(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)
	a := Appointment{StartsAt: &start, EndsAt: &end}

	assert.True(t, a.Overlaps(start.Add(15*time.Minute), end.Add(15*time.Minute)))
	assert.False(t, a.Overlaps(end, end.Add(time.Hour)), "touching slots do not overlap")
	assert.False(t, a.Overlaps(start.Add(-time.Hour), start))
	assert.False(t, Appointment{}.Overlaps(start, end))
}

func TestTransitionApply(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := Appointment{Status: StatusConfirmed, Version: 3}
	Transition{To: StatusCancelled, Reason: "sick", ActorID: "u1", At: at}.Apply(&a)

	assert.Equal(t, StatusCancelled, a.Status)
	assert.Equal(t, 4, a.Version)
	assert.Equal(t, "sick", a.CancelReason)
	assert.Equal(t, at, *a.CancelledAt)
}

func TestFilterMatches(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := Appointment{Status: StatusScheduled, VetID: "v1", StartsAt: &start}
	from := start.Add(-time.Hour)
	to := start

	assert.True(t, Filter{Statuses: []Status{StatusScheduled}, VetID: "v1", From: &from}.Matches(a))
	assert.False(t, Filter{To: &to}.Matches(a), "To is exclusive")
	assert.False(t, Filter{VetID: "v2"}.Matches(a))
}

func TestFilterEndsAfter(t *testing.T) {
	start := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	a := Appointment{Status: StatusScheduled, StartsAt: &start, EndsAt: &end}

	open := start.Add(30 * time.Minute)
	assert.True(t, Filter{EndsAfter: &open}.Matches(a), "started before the window but still running")
	assert.False(t, Filter{EndsAfter: &end}.Matches(a), "EndsAfter is exclusive")
	assert.False(t, Filter{EndsAfter: &open}.Matches(Appointment{StartsAt: &start}))
}
