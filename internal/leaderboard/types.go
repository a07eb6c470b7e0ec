package leaderboard

import (
	"encoding/json"
	"time"
)

// Entry is one row of a leaderboard snapshot. Rank is 1-based and strictly
// increasing with position; lower rank is better.
type Entry struct {
	PlayerID string          `json:"playerId"`
	Rank     int             `json:"rank"`
	Rating   int             `json:"rating"`
	Stats    json.RawMessage `json:"statsSummary,omitempty"`
}

// Snapshot is the full ordered leaderboard state for one scope at one point
// in time, as supplied by the external ranking service.
type Snapshot struct {
	Scope     string    `json:"scope"`
	Entries   []Entry   `json:"entries"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangeKind classifies a diff entry.
type ChangeKind string

const (
	ChangeRankUp   ChangeKind = "rank_up"
	ChangeRankDown ChangeKind = "rank_down"
	ChangeNew      ChangeKind = "new"
	ChangeRemoved  ChangeKind = "removed"
)

// DiffEntry is one changed row between two snapshots. For removed players,
// Rank and Rating are the last known values.
type DiffEntry struct {
	PlayerID string     `json:"playerId"`
	Rank     int        `json:"rank"`
	Rating   int        `json:"rating"`
	Change   ChangeKind `json:"changeKind"`
}

// UpdateType tags the leaderboard-update union.
type UpdateType string

const (
	UpdateDiff UpdateType = "diff"
	UpdateFull UpdateType = "full"
)

// Reasons attached to full updates.
const (
	ReasonInitialSnapshot       = "initial_snapshot"
	ReasonDiffThresholdExceeded = "diff_threshold_exceeded"
)

// Update is the tagged leaderboard-update message: either a diff carrying
// the changed entries, or a full carrying a complete snapshot.
type Update struct {
	Type        UpdateType
	Changes     []DiffEntry
	Leaderboard *Snapshot
	Reason      string
	Timestamp   time.Time
}

// MarshalJSON emits only the fields that belong to the update's variant. A
// diff always carries a changes array, even when empty, so clients can tell
// "nothing changed" apart from "nothing was sent".
func (u Update) MarshalJSON() ([]byte, error) {
	switch u.Type {
	case UpdateFull:
		return json.Marshal(struct {
			Type        UpdateType `json:"type"`
			Leaderboard *Snapshot  `json:"leaderboard"`
			Reason      string     `json:"reason,omitempty"`
			Timestamp   time.Time  `json:"timestamp"`
		}{u.Type, u.Leaderboard, u.Reason, u.Timestamp})
	default:
		changes := u.Changes
		if changes == nil {
			changes = []DiffEntry{}
		}
		return json.Marshal(struct {
			Type      UpdateType  `json:"type"`
			Changes   []DiffEntry `json:"changes"`
			Timestamp time.Time   `json:"timestamp"`
		}{u.Type, changes, u.Timestamp})
	}
}

// UnmarshalJSON restores the union from its wire form.
func (u *Update) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type        UpdateType  `json:"type"`
		Changes     []DiffEntry `json:"changes"`
		Leaderboard *Snapshot   `json:"leaderboard"`
		Reason      string      `json:"reason"`
		Timestamp   time.Time   `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*u = Update{
		Type:        wire.Type,
		Changes:     wire.Changes,
		Leaderboard: wire.Leaderboard,
		Reason:      wire.Reason,
		Timestamp:   wire.Timestamp,
	}
	return nil
}

// RankChange is a discrete rank movement derived from a snapshot transition.
// RatingChange is the new rating minus the old rating.
type RankChange struct {
	PlayerID     string
	OldRank      int
	NewRank      int
	RatingChange int
}
