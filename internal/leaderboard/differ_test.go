package leaderboard

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(scope string, entries ...Entry) Snapshot {
	return Snapshot{Scope: scope, Entries: entries, Timestamp: time.Unix(0, 0)}
}

func entry(playerID string, rank, rating int) Entry {
	return Entry{PlayerID: playerID, Rank: rank, Rating: rating}
}

func TestFirstSnapshotEmitsFull(t *testing.T) {
	d := NewDiffer(10, clockwork.NewFakeClock())

	res := d.Apply(snap("global", entry("p1", 1, 1600), entry("p2", 2, 1550)))

	require.Equal(t, UpdateFull, res.Update.Type)
	assert.Equal(t, ReasonInitialSnapshot, res.Update.Reason)
	require.NotNil(t, res.Update.Leaderboard)
	assert.Len(t, res.Update.Leaderboard.Entries, 2)
	assert.Empty(t, res.RankChanges)
	assert.Equal(t, 0, d.Counter("global"))
}

func TestDiffClassification(t *testing.T) {
	d := NewDiffer(10, clockwork.NewFakeClock())

	d.Apply(snap("global",
		entry("stay", 1, 1700),
		entry("down", 2, 1650),
		entry("up", 3, 1600),
		entry("gone", 4, 1500),
	))
	res := d.Apply(snap("global",
		entry("stay", 1, 1700),
		entry("up", 2, 1640),
		entry("down", 3, 1610),
		entry("fresh", 4, 1450),
	))

	require.Equal(t, UpdateDiff, res.Update.Type)
	require.Len(t, res.Update.Changes, 4)

	assert.Equal(t, DiffEntry{PlayerID: "up", Rank: 2, Rating: 1640, Change: ChangeRankUp}, res.Update.Changes[0])
	assert.Equal(t, DiffEntry{PlayerID: "down", Rank: 3, Rating: 1610, Change: ChangeRankDown}, res.Update.Changes[1])
	assert.Equal(t, DiffEntry{PlayerID: "fresh", Rank: 4, Rating: 1450, Change: ChangeNew}, res.Update.Changes[2])
	assert.Equal(t, DiffEntry{PlayerID: "gone", Rank: 4, Rating: 1500, Change: ChangeRemoved}, res.Update.Changes[3])
}

func TestDiffOrderingTieBrokenByPlayerID(t *testing.T) {
	d := NewDiffer(10, clockwork.NewFakeClock())

	d.Apply(snap("global", entry("b", 2, 1500), entry("a", 3, 1490)))
	res := d.Apply(snap("global", entry("a", 1, 1520), entry("b", 4, 1480), entry("zed", 4, 1480)))

	require.Equal(t, UpdateDiff, res.Update.Type)
	require.Len(t, res.Update.Changes, 3)
	assert.Equal(t, "a", res.Update.Changes[0].PlayerID)
	// rank 4 tie: "b" before "zed"
	assert.Equal(t, "b", res.Update.Changes[1].PlayerID)
	assert.Equal(t, "zed", res.Update.Changes[2].PlayerID)
}

func TestEmptyDiffIsStillEmitted(t *testing.T) {
	d := NewDiffer(10, clockwork.NewFakeClock())

	same := snap("global", entry("p1", 1, 1600))
	d.Apply(same)
	res := d.Apply(same)

	require.Equal(t, UpdateDiff, res.Update.Type)
	assert.Empty(t, res.Update.Changes)

	data, err := json.Marshal(res.Update)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"changes":[]`)
}

func TestRankChangesCarryRatingDelta(t *testing.T) {
	d := NewDiffer(10, clockwork.NewFakeClock())

	d.Apply(snap("global", entry("p1", 5, 1500), entry("p2", 3, 1560)))
	res := d.Apply(snap("global", entry("p1", 3, 1545), entry("p2", 5, 1540)))

	require.Len(t, res.RankChanges, 2)
	assert.Equal(t, RankChange{PlayerID: "p1", OldRank: 5, NewRank: 3, RatingChange: 45}, res.RankChanges[0])
	assert.Equal(t, RankChange{PlayerID: "p2", OldRank: 3, NewRank: 5, RatingChange: -20}, res.RankChanges[1])
}

func TestThresholdForcesFullAndResetsCounter(t *testing.T) {
	const threshold = 10
	d := NewDiffer(threshold, clockwork.NewFakeClock())

	base := snap("global", entry("p1", 1, 1600))
	res := d.Apply(base)
	require.Equal(t, UpdateFull, res.Update.Type)

	// Emissions since the last full stay diffs until the counter would hit
	// the threshold.
	for i := 1; i < threshold; i++ {
		res = d.Apply(base)
		require.Equal(t, UpdateDiff, res.Update.Type, "emission %d", i)
		require.Less(t, d.Counter("global"), threshold)
	}

	res = d.Apply(base)
	require.Equal(t, UpdateFull, res.Update.Type)
	assert.Equal(t, ReasonDiffThresholdExceeded, res.Update.Reason)
	assert.Equal(t, 0, d.Counter("global"))

	// Cycle repeats after the corrective full.
	res = d.Apply(base)
	assert.Equal(t, UpdateDiff, res.Update.Type)
}

func TestFullEmissionStillReportsRankChanges(t *testing.T) {
	d := NewDiffer(2, clockwork.NewFakeClock())

	d.Apply(snap("global", entry("p1", 2, 1500), entry("p2", 1, 1520)))
	res := d.Apply(snap("global", entry("p1", 1, 1530), entry("p2", 2, 1510)))

	require.Equal(t, UpdateFull, res.Update.Type)
	require.Len(t, res.RankChanges, 2)
	assert.Equal(t, "p1", res.RankChanges[0].PlayerID)
}

func TestScopesAreIndependent(t *testing.T) {
	d := NewDiffer(10, clockwork.NewFakeClock())

	d.Apply(snap("global", entry("p1", 1, 1600)))
	res := d.Apply(snap("eu", entry("p1", 1, 1600)))

	assert.Equal(t, UpdateFull, res.Update.Type)
	assert.Equal(t, 0, d.Counter("eu"))
	assert.Equal(t, 0, d.Counter("global"))
}

func TestLast(t *testing.T) {
	d := NewDiffer(10, clockwork.NewFakeClock())

	_, ok := d.Last("global")
	assert.False(t, ok)

	d.Apply(snap("global", entry("p1", 1, 1600)))
	last, ok := d.Last("global")
	require.True(t, ok)
	assert.Equal(t, "p1", last.Entries[0].PlayerID)
}

func TestUpdateJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	full := Update{
		Type:        UpdateFull,
		Leaderboard: &Snapshot{Scope: "global", Entries: []Entry{entry("p1", 1, 1600)}, Timestamp: now},
		Reason:      ReasonDiffThresholdExceeded,
		Timestamp:   now,
	}

	data, err := json.Marshal(full)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"changes"`)

	var decoded Update
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, UpdateFull, decoded.Type)
	require.NotNil(t, decoded.Leaderboard)
	assert.Equal(t, "global", decoded.Leaderboard.Scope)
	assert.Equal(t, ReasonDiffThresholdExceeded, decoded.Reason)
}
