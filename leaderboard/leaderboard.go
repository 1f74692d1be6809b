package leaderboard

import (
	"time"

	"steamkit/core"
)

// Entry represents one account's score on a board.
type Entry struct {
	User      core.SteamID
	Score     int32
	Details   []int32
	UpdatedAt time.Time
}

// Ranked is an entry with its 1-based position.
type Ranked struct {
	Entry
	Rank int
}

// Board abstracts leaderboard operations. Ranks are 1-based.
type Board interface {
	Update(e Entry)
	Remove(user core.SteamID)
	Get(user core.SteamID) (Ranked, bool)
	Range(start, end int) []Ranked
	TopN(n int) []Ranked
	Len() int
}

// ClampRange bounds the inclusive rank range [start, end] to [1, n].
// ok is false when nothing is left.
func ClampRange(start, end, n int) (int, int, bool) {
	if start < 1 {
		start = 1
	}
	if end > n {
		end = n
	}
	return start, end, start <= end
}
