package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"steamkit/core"
)

// A skip list with per-level spans, ordered by (score per sort method, update time, steam id).
// Spans give O(log n) rank lookups and rank-addressed ranges.

const maxLevel = 16
const pFactor = 0.25

type node struct {
	e    Entry
	next [maxLevel]*node
	span [maxLevel]int
}

type SkipList struct {
	mu     sync.RWMutex
	sort   core.LeaderboardSortMethod
	head   *node
	lvl    int
	length int
	byUser map[core.SteamID]*node
	rng    *rand.Rand
}

func NewSkipList(sort core.LeaderboardSortMethod) *SkipList {
	// Use crypto/rand to generate a secure seed for PCG
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		seed = [16]byte{}
	}
	seed1 := binary.BigEndian.Uint64(seed[:8])
	seed2 := binary.BigEndian.Uint64(seed[8:])

	return &SkipList{
		sort:   sort,
		head:   &node{},
		lvl:    1,
		byUser: map[core.SteamID]*node{},
		rng:    rand.New(rand.NewPCG(seed1, seed2)),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

// less orders a before b: better score, then earlier update, then lower id.
func (s *SkipList) less(a, b Entry) bool {
	if a.Score != b.Score {
		return s.sort.Better(a.Score, b.Score)
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.User < b.User
}

// Update inserts or moves the entry's user to its new position.
func (s *SkipList) Update(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byUser[e.User]; ok {
		s.removeLocked(old.e)
	}
	var update [maxLevel]*node
	var rank [maxLevel]int
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		if i < s.lvl-1 {
			rank[i] = rank[i+1]
		}
		for cur.next[i] != nil && s.less(cur.next[i].e, e) {
			rank[i] += cur.span[i]
			cur = cur.next[i]
		}
		update[i] = cur
	}
	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			update[i] = s.head
			s.head.span[i] = s.length
		}
		s.lvl = lvl
	}
	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
		n.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = rank[0] - rank[i] + 1
	}
	for i := lvl; i < s.lvl; i++ {
		update[i].span[i]++
	}
	s.length++
	s.byUser[e.User] = n
}

func (s *SkipList) removeLocked(e Entry) {
	var update [maxLevel]*node
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && s.less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.User != e.User {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].span[i] += target.span[i] - 1
			update[i].next[i] = target.next[i]
		} else {
			update[i].span[i]--
		}
	}
	delete(s.byUser, e.User)
	s.length--
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
}

func (s *SkipList) Remove(user core.SteamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byUser[user]; ok {
		s.removeLocked(n.e)
	}
}

// rankLocked returns the 1-based rank of e, or 0 when absent.
func (s *SkipList) rankLocked(e Entry) int {
	rank := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && (s.less(cur.next[i].e, e) || cur.next[i].e.User == e.User) {
			rank += cur.span[i]
			cur = cur.next[i]
		}
		if cur != s.head && cur.e.User == e.User {
			return rank
		}
	}
	return 0
}

func (s *SkipList) byRankLocked(rank int) *node {
	traversed := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && traversed+cur.span[i] <= rank {
			traversed += cur.span[i]
			cur = cur.next[i]
		}
		if traversed == rank {
			return cur
		}
	}
	return nil
}

// Get returns the user's entry and rank.
func (s *SkipList) Get(user core.SteamID) (Ranked, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byUser[user]
	if !ok {
		return Ranked{}, false
	}
	return Ranked{Entry: n.e, Rank: s.rankLocked(n.e)}, true
}

// Range returns ranks start..end inclusive, clamped to the board.
func (s *SkipList) Range(start, end int) []Ranked {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, end, ok := ClampRange(start, end, s.length)
	if !ok {
		return nil
	}
	out := make([]Ranked, 0, end-start+1)
	cur := s.byRankLocked(start)
	for r := start; cur != nil && r <= end; r++ {
		out = append(out, Ranked{Entry: cur.e, Rank: r})
		cur = cur.next[0]
	}
	return out
}

func (s *SkipList) TopN(n int) []Ranked {
	if n <= 0 {
		return nil
	}
	return s.Range(1, n)
}

func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

var _ Board = (*SkipList)(nil)
