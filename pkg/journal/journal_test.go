package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/linepark/pkg/parking"
	"github.com/charlie0129/linepark/pkg/reversal"
	"github.com/charlie0129/linepark/pkg/vehicle"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCycles(t *testing.T) {
	db := openTemp(t)
	base := time.UnixMilli(1_700_000_000_000)

	want := []parking.Cycle{
		{ID: "c", Role: parking.Peer, StartedAt: base.Add(2 * time.Minute), EndedAt: base.Add(3 * time.Minute), Outcome: parking.OutcomeAborted, Error: "peer timeout"},
		{ID: "b", Role: parking.Host, StartedAt: base.Add(time.Minute), EndedAt: base.Add(time.Minute), Outcome: parking.OutcomeOccupied},
		{ID: "a", Role: parking.Host, StartedAt: base, EndedAt: base.Add(20 * time.Second), Outcome: parking.OutcomeCompleted},
	}
	for i := len(want) - 1; i >= 0; i-- {
		require.NoError(t, db.RecordCycle(want[i]))
	}

	got, err := db.Cycles(0)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("cycles mismatch (-want +got):\n%s", diff)
	}

	got, err = db.Cycles(1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID)

	assert.Error(t, db.RecordCycle(want[0]), "ids are unique")
}

func TestReversals(t *testing.T) {
	db := openTemp(t)
	require.NoError(t, db.RecordReversal(reversal.Reversal{
		At: time.Now(), Mode: vehicle.Reversed, Interval: 12 * time.Second,
	}))
	require.NoError(t, db.RecordReversal(reversal.Reversal{
		At: time.Now(), Mode: vehicle.Forward, Interval: 40 * time.Second, Mirrored: true,
	}))

	n, err := db.reversalCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.RecordCycle(parking.Cycle{ID: "x", StartedAt: time.UnixMilli(1), EndedAt: time.UnixMilli(2), Outcome: parking.OutcomeCompleted}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Cycles(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
}
