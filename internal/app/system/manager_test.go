package system

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingService struct {
	name     string
	startErr error
	events   *[]string
}

func (r recordingService) Name() string { return r.name }

func (r recordingService) Start(context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	*r.events = append(*r.events, "start:"+r.name)
	return nil
}

func (r recordingService) Stop(context.Context) error {
	*r.events = append(*r.events, "stop:"+r.name)
	return nil
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestManagerOrdersLifecycle(t *testing.T) {
	var events []string
	m := NewManager()
	require.NoError(t, m.Register(recordingService{name: "a", events: &events}))
	require.NoError(t, m.Register(recordingService{name: "b", events: &events}))
	require.NoError(t, m.Register(NoopService{ServiceName: "noop"}))
	assert.Error(t, m.Register(NoopService{ServiceName: "a"}))
	assert.Error(t, m.Register(nil))
	assert.Equal(t, []string{"a", "b", "noop"}, m.Services())

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, events)
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var events []string
	m := NewManager()
	require.NoError(t, m.Register(recordingService{name: "a", events: &events}))
	require.NoError(t, m.Register(recordingService{name: "b", events: &events, startErr: errors.New("boom")}))
	require.NoError(t, m.Register(recordingService{name: "c", events: &events}))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")
	assert.Equal(t, []string{"start:a", "stop:a"}, events)
}
