package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weavr-ai/weavr/common/config"
	"github.com/weavr-ai/weavr/common/model"
)

type nopLog struct{}

func (nopLog) Info(msg string, args ...any)  {}
func (nopLog) Warn(msg string, args ...any)  {}
func (nopLog) Debug(msg string, args ...any) {}

type recordingEngine struct {
	runs     []string
	triggers []model.TriggerInfo
	err      error
}

func (e *recordingEngine) Run(ctx context.Context, workflowID string, trigger model.TriggerInfo) (string, error) {
	e.runs = append(e.runs, workflowID)
	e.triggers = append(e.triggers, trigger)
	if e.err != nil {
		return "", e.err
	}
	return "exec-1", nil
}

type recordingUnlock struct {
	released bool
}

func (u *recordingUnlock) Release(ctx context.Context) error {
	u.released = true
	return nil
}

type fakeLocker struct {
	acquired bool
	err      error
	unlock   *recordingUnlock
	keys     []string
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Unlocker, bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil || !l.acquired {
		return nil, false, l.err
	}
	l.unlock = &recordingUnlock{}
	return l.unlock, true, nil
}

func newRunner(engine *recordingEngine, locks *fakeLocker) *Runner {
	return New(engine, locks, config.SchedulerConfig{
		CronJitterMax: 0, // tests must not sleep
		CronLockTTL:   time.Minute,
	}, nopLog{})
}

func TestJitter_DeterministicPerWorkflow(t *testing.T) {
	r := New(&recordingEngine{}, &fakeLocker{}, config.SchedulerConfig{
		CronJitterMax: 30 * time.Second,
	}, nopLog{})

	first := r.Jitter("wf-1")
	assert.Equal(t, first, r.Jitter("wf-1"))
	assert.GreaterOrEqual(t, first, time.Duration(0))
	assert.Less(t, first, 30*time.Second)

	// Different workflows spread over the window rather than stampeding
	assert.NotEqual(t, r.Jitter("wf-1"), r.Jitter("wf-2"))
}

func TestJitter_ZeroWhenDisabled(t *testing.T) {
	r := newRunner(&recordingEngine{}, &fakeLocker{})
	assert.Equal(t, time.Duration(0), r.Jitter("wf-1"))
}

func TestFire_RunsEngineAndReleasesLock(t *testing.T) {
	engine := &recordingEngine{}
	locks := &fakeLocker{acquired: true}
	r := newRunner(engine, locks)

	r.fire("wf-1")

	require.Equal(t, []string{"wf-1"}, engine.runs)
	assert.Equal(t, model.TriggerCron, engine.triggers[0].TriggerType)
	assert.Contains(t, engine.triggers[0].TriggerData, "fired_at")
	assert.True(t, locks.unlock.released)
}

func TestFire_SkipsTickWhenLockHeldElsewhere(t *testing.T) {
	engine := &recordingEngine{}
	locks := &fakeLocker{acquired: false}
	r := newRunner(engine, locks)

	r.fire("wf-1")

	assert.Empty(t, engine.runs)
	require.Len(t, locks.keys, 1)
}

func TestFire_SkipsTickOnLockError(t *testing.T) {
	engine := &recordingEngine{}
	locks := &fakeLocker{err: errors.New("redis unavailable")}
	r := newRunner(engine, locks)

	r.fire("wf-1")

	assert.Empty(t, engine.runs)
}

func TestFire_ReleasesLockWhenRunFails(t *testing.T) {
	engine := &recordingEngine{err: errors.New("engine down")}
	locks := &fakeLocker{acquired: true}
	r := newRunner(engine, locks)

	r.fire("wf-1")

	require.Len(t, engine.runs, 1)
	assert.True(t, locks.unlock.released)
}

func TestAdd_ReplacesExistingSchedule(t *testing.T) {
	r := newRunner(&recordingEngine{}, &fakeLocker{})

	require.NoError(t, r.Add("wf-1", "0 9 * * 1", ""))
	require.NoError(t, r.Add("wf-1", "0 18 * * 5", "Europe/Berlin"))

	assert.True(t, r.Scheduled("wf-1"))
	r.mu.Lock()
	assert.Len(t, r.jobs, 1)
	r.mu.Unlock()
}

func TestAdd_RejectsInvalidExpression(t *testing.T) {
	r := newRunner(&recordingEngine{}, &fakeLocker{})

	err := r.Add("wf-1", "not a cron line", "")
	require.Error(t, err)
	assert.False(t, r.Scheduled("wf-1"))
}

func TestRemove_DropsSchedule(t *testing.T) {
	r := newRunner(&recordingEngine{}, &fakeLocker{})

	require.NoError(t, r.Add("wf-1", "@hourly", ""))
	r.Remove("wf-1")
	assert.False(t, r.Scheduled("wf-1"))

	// Removing an unknown workflow is a no-op
	r.Remove("wf-2")
}
