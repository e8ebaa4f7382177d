package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/goleak"

	"github.com/R3E-Network/vetclinic/internal/app/domain/appointment"
	sb "github.com/R3E-Network/vetclinic/internal/supabase"
	"github.com/R3E-Network/vetclinic/pkg/logger"
)

type replaySource struct {
	changes []sb.Change
	sub     sb.Subscription
}

func (r *replaySource) Listen(ctx context.Context, sub sb.Subscription, handler sb.ChangeHandler) error {
	r.sub = sub
	for _, c := range r.changes {
		handler(ctx, c)
	}
	<-ctx.Done()
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []appointment.Appointment
}

func (n *recordingNotifier) NotifyBookingReceived(_ context.Context, a appointment.Appointment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, a)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.seen)
}

func change(kind, record string) sb.Change {
	return sb.Change{Type: kind, Schema: "public", Table: "appointments", Record: gjson.Parse(record)}
}

func TestBookingListenerHandleFilters(t *testing.T) {
	notifier := &recordingNotifier{}
	l := NewBookingListener(&replaySource{}, notifier, logger.Discard())
	ctx := context.Background()

	l.Handle(ctx, change("INSERT", `{"id":"a1","tenant_id":"t1","status":"pending_scheduling","customer_id":"c1","preferred_dates":["2026-03-04"]}`))
	l.Handle(ctx, change("UPDATE", `{"id":"a1","tenant_id":"t1","status":"pending_scheduling"}`))
	l.Handle(ctx, change("INSERT", `{"id":"a2","tenant_id":"t1","status":"scheduled"}`))
	l.Handle(ctx, change("INSERT", `not json`))
	l.Handle(ctx, sb.Change{Type: "INSERT"})

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, "a1", notifier.seen[0].ID)
	assert.Equal(t, []string{"2026-03-04"}, notifier.seen[0].PreferredDates)
}

func TestBookingListenerLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	source := &replaySource{changes: []sb.Change{
		change("INSERT", `{"id":"a1","tenant_id":"t1","status":"pending_scheduling"}`),
	}}
	notifier := &recordingNotifier{}
	l := NewBookingListener(source, notifier, logger.Discard())

	require.NoError(t, l.Start(context.Background()))
	require.NoError(t, l.Start(context.Background()))
	assert.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
	require.NoError(t, l.Stop(ctx))

	assert.Equal(t, "INSERT", source.sub.Event)
	assert.Equal(t, "status=eq.pending_scheduling", source.sub.Filter)
	assert.Equal(t, "booking-listener", l.Name())
}
