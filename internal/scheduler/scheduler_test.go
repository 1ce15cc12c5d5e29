package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aptops/internal/backup"
	"aptops/internal/logging"
	"aptops/internal/tenant"
)

type mockRunner struct {
	mu       sync.Mutex
	runs     []backup.BackupOptions
	sites    []tenant.Site
	failFull bool
	failSite string
	purges   int
}

func (m *mockRunner) RunBackup(ctx context.Context, opts backup.BackupOptions) (*backup.BackupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, opts)
	if opts.Scope == backup.ScopeFull && m.failFull {
		return nil, errors.New("simulated backup failure")
	}
	if opts.Scope == backup.ScopeSite && opts.SiteCode == m.failSite {
		return nil, errors.New("simulated site failure")
	}
	return &backup.BackupResult{}, nil
}

func (m *mockRunner) Sites(ctx context.Context) ([]tenant.Site, error) {
	return m.sites, nil
}

func (m *mockRunner) Purge(scope backup.Scope, keepDays int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purges++
	return 0, nil
}

func (m *mockRunner) recorded() []backup.BackupOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]backup.BackupOptions(nil), m.runs...)
}

func newTestScheduler(t *testing.T, runner Runner, stateDir string) *Scheduler {
	t.Helper()
	s, err := New(Options{
		Location:          time.UTC,
		StateDir:          stateDir,
		Tick:              30 * time.Second,
		DailyWindow:       15 * time.Minute,
		WeeklyDay:         time.Sunday,
		WeeklyHour:        3,
		WeeklyWindow:      15 * time.Minute,
		FullRetentionDays: 14,
		SiteRetentionDays: 30,
	}, runner, logging.Discard())
	require.NoError(t, err)
	return s
}

// 2026-08-23 is a Sunday.
var (
	insideDaily   = time.Date(2026, 8, 23, 0, 5, 0, 0, time.UTC)
	outsideDaily  = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	insideWeekly  = time.Date(2026, 8, 23, 3, 5, 0, 0, time.UTC)
	mondayMorning = time.Date(2026, 8, 24, 3, 5, 0, 0, time.UTC)
)

func TestDailyFullFiresOncePerDay(t *testing.T) {
	runner := &mockRunner{}
	s := newTestScheduler(t, runner, t.TempDir())
	s.now = func() time.Time { return insideDaily }

	for i := 0; i < 5; i++ {
		s.Tick(context.Background())
	}

	runs := runner.recorded()
	require.Len(t, runs, 1, "repeated ticks inside the window must not re-fire")
	assert.Equal(t, backup.ScopeFull, runs[0].Scope)
	assert.Equal(t, backup.TriggerScheduledDaily, runs[0].Trigger)
	assert.True(t, runs[0].WithMaintenance)
	assert.Equal(t, "scheduler", runs[0].Actor)
}

func TestDailyMarkerSurvivesRestart(t *testing.T) {
	stateDir := t.TempDir()
	runner := &mockRunner{}

	s := newTestScheduler(t, runner, stateDir)
	s.now = func() time.Time { return insideDaily }
	s.Tick(context.Background())
	require.Len(t, runner.recorded(), 1)

	// A new process inside the same window loads the marker and stays
	// quiet.
	restarted := newTestScheduler(t, runner, stateDir)
	restarted.now = func() time.Time { return insideDaily.Add(2 * time.Minute) }
	restarted.Tick(context.Background())

	assert.Len(t, runner.recorded(), 1)
}

func TestDailySkipsOutsideWindow(t *testing.T) {
	runner := &mockRunner{}
	s := newTestScheduler(t, runner, t.TempDir())
	s.now = func() time.Time { return outsideDaily }

	s.Tick(context.Background())
	assert.Empty(t, runner.recorded())
}

func TestDailyRetriesAfterFailure(t *testing.T) {
	runner := &mockRunner{failFull: true}
	s := newTestScheduler(t, runner, t.TempDir())
	s.now = func() time.Time { return insideDaily }

	s.Tick(context.Background())
	require.Len(t, runner.recorded(), 1)

	// The marker did not advance, so the next tick retries.
	runner.failFull = false
	s.Tick(context.Background())
	runs := runner.recorded()
	require.Len(t, runs, 2)

	// Success advances the marker; no third run.
	s.Tick(context.Background())
	assert.Len(t, runner.recorded(), 2)
}

func TestWeeklyRunsEverySite(t *testing.T) {
	runner := &mockRunner{sites: []tenant.Site{
		{ID: 1, Code: "A1", Name: "Riverside Towers"},
		{ID: 2, Code: "B2", Name: "Harborview Flats"},
	}}
	s := newTestScheduler(t, runner, t.TempDir())
	s.now = func() time.Time { return insideWeekly }

	s.Tick(context.Background())

	var siteRuns []backup.BackupOptions
	for _, r := range runner.recorded() {
		if r.Scope == backup.ScopeSite {
			siteRuns = append(siteRuns, r)
		}
	}
	require.Len(t, siteRuns, 2)
	assert.Equal(t, "A1", siteRuns[0].SiteCode)
	assert.Equal(t, "B2", siteRuns[1].SiteCode)
	assert.Equal(t, backup.TriggerScheduledWeekly, siteRuns[0].Trigger)
	assert.False(t, siteRuns[0].WithMaintenance, "per-site jobs never hold maintenance")

	// Same week, later tick: marker holds.
	s.now = func() time.Time { return insideWeekly.Add(5 * time.Minute) }
	s.Tick(context.Background())
	assert.Len(t, runner.recorded(), 2)
}

func TestWeeklySkipsWrongDay(t *testing.T) {
	runner := &mockRunner{sites: []tenant.Site{{ID: 1, Code: "A1"}}}
	s := newTestScheduler(t, runner, t.TempDir())
	s.now = func() time.Time { return mondayMorning }

	s.Tick(context.Background())
	for _, r := range runner.recorded() {
		assert.NotEqual(t, backup.ScopeSite, r.Scope)
	}
}

func TestWeeklyIsolatesPerSiteFailures(t *testing.T) {
	runner := &mockRunner{
		sites: []tenant.Site{
			{ID: 1, Code: "A1"}, {ID: 2, Code: "B2"}, {ID: 3, Code: "C3"},
		},
		failSite: "B2",
	}
	s := newTestScheduler(t, runner, t.TempDir())
	s.now = func() time.Time { return insideWeekly }

	s.Tick(context.Background())

	var codes []string
	for _, r := range runner.recorded() {
		if r.Scope == backup.ScopeSite {
			codes = append(codes, r.SiteCode)
		}
	}
	assert.Equal(t, []string{"A1", "B2", "C3"}, codes, "one bad site must not stop the pass")

	// The weekly marker still advanced.
	s.Tick(context.Background())
	var second []string
	for _, r := range runner.recorded() {
		if r.Scope == backup.ScopeSite {
			second = append(second, r.SiteCode)
		}
	}
	assert.Len(t, second, 3)
}

func TestTickSweepsRetentionEveryTick(t *testing.T) {
	runner := &mockRunner{}
	s := newTestScheduler(t, runner, t.TempDir())
	s.now = func() time.Time { return insideDaily }

	s.Tick(context.Background())
	assert.Equal(t, 2, runner.purges, "both scopes swept after a fired job")

	s.now = func() time.Time { return outsideDaily }
	s.Tick(context.Background())
	assert.Equal(t, 4, runner.purges, "idle ticks sweep as well")
}
