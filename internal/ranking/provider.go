package ranking

import (
	"context"

	"github.com/rankstream/rankstream/internal/leaderboard"
)

// SnapshotProvider is the external ranking/persistence collaborator. It
// supplies ordered leaderboard snapshots on demand; how ratings are computed
// is not this system's concern.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, scope string) (leaderboard.Snapshot, error)
	SnapshotPage(ctx context.Context, scope string, page, limit int) (leaderboard.Snapshot, error)
}
