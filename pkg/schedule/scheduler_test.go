package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpilot-io/gpilot/pkg/models"
	"github.com/gpilot-io/gpilot/pkg/store"
	testdb "github.com/gpilot-io/gpilot/test/database"
)

type submission struct {
	userID string
	plan   models.Plan
}

type fakeSubmitter struct {
	mu    sync.Mutex
	err   error
	calls []submission
}

func (f *fakeSubmitter) Submit(_ context.Context, userID string, plan models.Plan) (*models.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, submission{userID: userID, plan: plan})
	return &models.Mission{UserID: userID, Status: models.MissionPending, Plan: plan}, nil
}

func (f *fakeSubmitter) submissions() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.calls...)
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeSubmitter, *store.Store) {
	t.Helper()

	client := testdb.NewTestClient(t)
	st := store.New(client, slog.Default())
	sub := &fakeSubmitter{}
	sched, err := NewScheduler(st, sub, slog.Default())
	require.NoError(t, err)
	return sched, sub, st
}

func auditPlan() models.Plan {
	return models.Plan{Steps: []models.Step{{AgentName: "auditor"}}}
}

func seedSchedule(t *testing.T, st *store.Store, userID, expr string, active bool) *models.Schedule {
	t.Helper()

	sched := &models.Schedule{
		UserID:   userID,
		Name:     "nightly audit",
		CronExpr: expr,
		Plan:     auditPlan(),
		IsActive: active,
	}
	require.NoError(t, st.CreateSchedule(context.Background(), sched))
	return sched
}

func TestTickSubmitsAndStamps(t *testing.T) {
	s, sub, st := newTestScheduler(t)
	sched := seedSchedule(t, st, "alice", "*/5 * * * *", true)

	s.tick(sched.ID, sched.CronExpr)

	calls := sub.submissions()
	require.Len(t, calls, 1)
	assert.Equal(t, "alice", calls[0].userID)
	assert.Equal(t, auditPlan(), calls[0].plan)

	got, err := st.GetSchedule(context.Background(), sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.LastRunAt, 5*time.Second)
	require.NotNil(t, got.NextRunAt)

	next := got.NextRunAt.UTC()
	assert.True(t, next.After(*got.LastRunAt))
	assert.Zero(t, next.Second())
	assert.Zero(t, next.Minute()%5)
	assert.LessOrEqual(t, next.Sub(*got.LastRunAt), 5*time.Minute)
}

func TestTickSkipsInactiveSchedule(t *testing.T) {
	s, sub, st := newTestScheduler(t)
	sched := seedSchedule(t, st, "alice", "* * * * *", false)

	s.tick(sched.ID, sched.CronExpr)

	assert.Empty(t, sub.submissions())
	got, err := st.GetSchedule(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastRunAt)
}

func TestTickDropsDeletedSchedule(t *testing.T) {
	s, sub, st := newTestScheduler(t)
	sched := seedSchedule(t, st, "alice", "* * * * *", true)
	require.NoError(t, s.Add(sched))
	require.Len(t, s.cron.Jobs(), 1)

	require.NoError(t, st.DeleteSchedule(context.Background(), sched.ID))
	s.tick(sched.ID, sched.CronExpr)

	assert.Empty(t, sub.submissions())
	assert.Empty(t, s.cron.Jobs())
}

func TestTickRejectedMissionLeavesRowUntouched(t *testing.T) {
	s, sub, st := newTestScheduler(t)
	sub.err = errors.New("plan rejected")
	sched := seedSchedule(t, st, "alice", "* * * * *", true)

	s.tick(sched.ID, sched.CronExpr)

	got, err := st.GetSchedule(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastRunAt)
	assert.Nil(t, got.NextRunAt)
}

func TestStartRegistersActiveSchedules(t *testing.T) {
	s, _, st := newTestScheduler(t)
	a := seedSchedule(t, st, "alice", "0 0 * * *", true)
	b := seedSchedule(t, st, "bob", "someday", true) // falls back to hourly
	seedSchedule(t, st, "carol", "* * * * *", false)

	require.NoError(t, s.Start(context.Background()))

	jobs := s.cron.Jobs()
	require.Len(t, jobs, 2)
	var tags []string
	for _, j := range jobs {
		tags = append(tags, j.Tags()...)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, tags)

	require.NoError(t, s.Stop())
}

func TestUpdateAndRemoveReshapeTimers(t *testing.T) {
	s, _, st := newTestScheduler(t)
	sched := seedSchedule(t, st, "alice", "0 * * * *", true)

	require.NoError(t, s.Add(sched))
	require.Len(t, s.cron.Jobs(), 1)

	sched.IsActive = false
	require.NoError(t, s.Update(sched))
	assert.Empty(t, s.cron.Jobs())

	sched.IsActive = true
	sched.CronExpr = "*/30 * * * *"
	require.NoError(t, s.Update(sched))
	require.Len(t, s.cron.Jobs(), 1)

	s.Remove(sched.ID)
	assert.Empty(t, s.cron.Jobs())
}
