package leaderboard

import (
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// DefaultFullSnapshotThreshold is the number of emissions per scope after a
// full update before the next emission is forced to be another full.
const DefaultFullSnapshotThreshold = 10

// Result is the outcome of applying a new snapshot: the update to broadcast
// and the discrete rank movements it implies. RankChanges are produced in
// diff order (rank-ascending) regardless of which update variant was chosen.
type Result struct {
	Update      Update
	RankChanges []RankChange
}

// Differ computes minimal change sets between successive snapshots per
// scope and decides between diff and full emission. State is in-memory
// only; a restarted process rebuilds it from the next snapshot it sees.
type Differ struct {
	mu        sync.Mutex
	threshold int
	clock     clockwork.Clock
	scopes    map[string]*scopeState
}

type scopeState struct {
	last    Snapshot
	counter int
}

func NewDiffer(threshold int, clock clockwork.Clock) *Differ {
	if threshold <= 0 {
		threshold = DefaultFullSnapshotThreshold
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Differ{
		threshold: threshold,
		clock:     clock,
		scopes:    make(map[string]*scopeState),
	}
}

// Last returns the most recent snapshot applied for the scope, if any.
func (d *Differ) Last(scope string) (Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.scopes[scope]
	if !ok {
		return Snapshot{}, false
	}
	return st.last, true
}

// Counter returns the emissions since the last full update for the scope.
func (d *Differ) Counter(scope string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.scopes[scope]
	if !ok {
		return 0
	}
	return st.counter
}

// Apply records a new snapshot for its scope and returns the update to
// broadcast. The first snapshot for a scope always yields a full update;
// afterwards diffs are emitted until the per-scope counter would reach the
// threshold, at which point a corrective full is emitted and the counter
// resets. The counter therefore stays strictly below the threshold after
// every emission, bounding how far a client that missed diffs can drift.
func (d *Differ) Apply(snap Snapshot) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	st, ok := d.scopes[snap.Scope]
	if !ok {
		d.scopes[snap.Scope] = &scopeState{last: snap}
		log.Debug().Str("scope", snap.Scope).Msg("first snapshot for scope, emitting full")
		return Result{Update: Update{
			Type:        UpdateFull,
			Leaderboard: &snap,
			Reason:      ReasonInitialSnapshot,
			Timestamp:   now,
		}}
	}

	changes, rankChanges := diff(st.last, snap)
	st.last = snap

	if st.counter+1 >= d.threshold {
		st.counter = 0
		log.Debug().
			Str("scope", snap.Scope).
			Int("threshold", d.threshold).
			Msg("diff threshold reached, emitting full")
		return Result{
			Update: Update{
				Type:        UpdateFull,
				Leaderboard: &snap,
				Reason:      ReasonDiffThresholdExceeded,
				Timestamp:   now,
			},
			RankChanges: rankChanges,
		}
	}

	st.counter++
	return Result{
		Update: Update{
			Type:      UpdateDiff,
			Changes:   changes,
			Timestamp: now,
		},
		RankChanges: rankChanges,
	}
}

// diff classifies every entry of the new snapshot against the previous one.
// Entries whose rank did not move are omitted. The returned slices are
// ordered by ascending rank with playerId breaking ties, which makes output
// deterministic for equal inputs.
func diff(prev, next Snapshot) ([]DiffEntry, []RankChange) {
	type prevEntry struct {
		rank   int
		rating int
	}
	before := make(map[string]prevEntry, len(prev.Entries))
	for _, e := range prev.Entries {
		before[e.PlayerID] = prevEntry{rank: e.Rank, rating: e.Rating}
	}

	changes := make([]DiffEntry, 0)
	seen := make(map[string]bool, len(next.Entries))
	for _, e := range next.Entries {
		seen[e.PlayerID] = true
		old, existed := before[e.PlayerID]
		switch {
		case !existed:
			changes = append(changes, DiffEntry{PlayerID: e.PlayerID, Rank: e.Rank, Rating: e.Rating, Change: ChangeNew})
		case e.Rank < old.rank:
			changes = append(changes, DiffEntry{PlayerID: e.PlayerID, Rank: e.Rank, Rating: e.Rating, Change: ChangeRankUp})
		case e.Rank > old.rank:
			changes = append(changes, DiffEntry{PlayerID: e.PlayerID, Rank: e.Rank, Rating: e.Rating, Change: ChangeRankDown})
		}
	}
	for _, e := range prev.Entries {
		if !seen[e.PlayerID] {
			changes = append(changes, DiffEntry{PlayerID: e.PlayerID, Rank: e.Rank, Rating: e.Rating, Change: ChangeRemoved})
		}
	}

	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].Rank != changes[j].Rank {
			return changes[i].Rank < changes[j].Rank
		}
		return changes[i].PlayerID < changes[j].PlayerID
	})

	rankChanges := make([]RankChange, 0)
	for _, c := range changes {
		if c.Change != ChangeRankUp && c.Change != ChangeRankDown {
			continue
		}
		old := before[c.PlayerID]
		rankChanges = append(rankChanges, RankChange{
			PlayerID:     c.PlayerID,
			OldRank:      old.rank,
			NewRank:      c.Rank,
			RatingChange: c.Rating - old.rating,
		})
	}
	return changes, rankChanges
}
