package maintenance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndClear(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	assert.False(t, store.Active())

	require.NoError(t, store.Set("backup running", ReasonFullBackup, "tester"))
	st := store.Status()
	assert.True(t, st.Active)
	assert.Equal(t, "backup running", st.Message)
	assert.Equal(t, ReasonFullBackup, st.Reason)
	assert.Equal(t, "tester", st.UpdatedBy)
	assert.False(t, st.StartedAt.IsZero())

	require.NoError(t, store.Clear("tester"))
	st = store.Status()
	assert.False(t, st.Active)
	assert.Empty(t, st.Reason)
}

func TestSetIsIdempotent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Set("first", ReasonFullBackup, "a"))
	started := store.Status().StartedAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.Set("second", ReasonRestore, "b"))

	st := store.Status()
	assert.True(t, st.Active)
	assert.Equal(t, "second", st.Message)
	assert.Equal(t, ReasonRestore, st.Reason)
	assert.Equal(t, started, st.StartedAt, "StartedAt must survive re-sets")
}

func TestStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Set("restore failed", ReasonRestoreFailed, "runner"))

	reopened, err := NewStore(dir)
	require.NoError(t, err)

	st := reopened.Status()
	assert.True(t, st.Active)
	assert.Equal(t, ReasonRestoreFailed, st.Reason)
	assert.Equal(t, "restore failed", st.Message)
}
