package memory

import (
	"context"
	"testing"

	"steamkit/adapters/storagetest"
	"steamkit/core"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, New())
}

func TestMemoryStoreCopiesDetails(t *testing.T) {
	s := New()
	ctx := context.Background()
	info, err := s.CreateLeaderboard(ctx, core.LeaderboardInfo{Game: core.NewGameID(480), Name: "b"})
	if err != nil {
		t.Fatal(err)
	}
	details := []int32{1, 2, 3}
	u := core.NewSteamID(1, core.UniversePublic, core.AccountTypeIndividual)
	if err := s.PutScore(ctx, info.Handle, core.ScoreRecord{SteamID: u, Score: 1, Details: details}); err != nil {
		t.Fatal(err)
	}
	details[0] = 99
	recs, _ := s.ListScores(ctx, info.Handle)
	if recs[0].Details[0] != 1 {
		t.Fatalf("stored details alias caller slice: %v", recs[0].Details)
	}
}
