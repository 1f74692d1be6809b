package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"steamkit/core"
	"steamkit/leaderboard"
)

// FindOrCreateLeaderboard finds the named leaderboard of the client's game,
// creating it with sort and display when missing. The call result is LeaderboardFindResult.
func (c *Client) FindOrCreateLeaderboard(ctx context.Context, name string, sort core.LeaderboardSortMethod, display core.LeaderboardDisplayType) (core.APICall, error) {
	if !sort.Valid() || !display.Valid() {
		return core.InvalidAPICall, fmt.Errorf("sort %d display %d: %w", sort, display, core.ErrInvalidParam)
	}
	return c.findLeaderboard(ctx, name, true, sort, display)
}

// FindLeaderboard looks up a leaderboard by name. A missing board completes
// with a zero handle.
func (c *Client) FindLeaderboard(ctx context.Context, name string) (core.APICall, error) {
	return c.findLeaderboard(ctx, name, false, 0, 0)
}

func (c *Client) findLeaderboard(ctx context.Context, name string, create bool, sort core.LeaderboardSortMethod, display core.LeaderboardDisplayType) (core.APICall, error) {
	if err := core.ValidateName(name, core.LeaderboardNameMax); err != nil {
		return core.InvalidAPICall, fmt.Errorf("leaderboard name: %w", err)
	}
	if _, err := c.loggedOnID(); err != nil {
		return core.InvalidAPICall, err
	}
	call := c.p.calls.Begin(c.h, core.CallbackLeaderboardFindResult)
	err := c.p.async(ctx, func(ctx context.Context) {
		info, err := c.p.store.FindLeaderboard(ctx, c.game, name)
		if errors.Is(err, core.ErrLeaderboardNotFound) && create {
			info, err = c.p.store.CreateLeaderboard(ctx, core.LeaderboardInfo{Game: c.game, Name: name, Sort: sort, Display: display})
			if err == nil {
				c.p.logger.Info("leaderboard created", zap.String("name", name), zap.Uint64("handle", uint64(info.Handle)))
			}
		}
		switch {
		case errors.Is(err, core.ErrLeaderboardNotFound):
			_ = c.p.calls.Complete(ctx, call, core.LeaderboardFindResult{})
			return
		case err != nil:
			c.p.logger.Warn("find leaderboard failed", zap.String("name", name), zap.Error(err))
			_ = c.p.calls.Fail(ctx, call)
			return
		}
		b, err := c.p.board(ctx, info)
		if err != nil {
			c.p.logger.Warn("load leaderboard failed", zap.String("name", name), zap.Error(err))
			_ = c.p.calls.Fail(ctx, call)
			return
		}
		c.remember(info, b.list.Len())
		_ = c.p.calls.Complete(ctx, call, core.LeaderboardFindResult{Leaderboard: info.Handle, LeaderboardFound: 1})
	})
	if err != nil {
		c.p.calls.Abandon(call)
		return core.InvalidAPICall, err
	}
	return call, nil
}

func (c *Client) remember(info core.LeaderboardInfo, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boards[info.Handle] = boardMeta{info: info, count: count}
}

func (c *Client) meta(h core.LeaderboardHandle) boardMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boards[h]
}

func (c *Client) GetLeaderboardName(h core.LeaderboardHandle) string { return c.meta(h).info.Name }

// GetLeaderboardEntryCount returns the entry count as of the last request on h.
func (c *Client) GetLeaderboardEntryCount(h core.LeaderboardHandle) int { return c.meta(h).count }

func (c *Client) GetLeaderboardSortMethod(h core.LeaderboardHandle) core.LeaderboardSortMethod {
	return c.meta(h).info.Sort
}

func (c *Client) GetLeaderboardDisplayType(h core.LeaderboardHandle) core.LeaderboardDisplayType {
	return c.meta(h).info.Display
}

// resolveBoard loads the leaderboard behind h and checks it belongs to the client's game.
func (c *Client) resolveBoard(ctx context.Context, h core.LeaderboardHandle) (*boardState, error) {
	info, err := c.p.store.GetLeaderboard(ctx, h)
	if err != nil {
		return nil, err
	}
	if info.Game != c.game {
		return nil, fmt.Errorf("leaderboard %d belongs to game %s: %w", h, info.Game, core.ErrLeaderboardNotFound)
	}
	return c.p.board(ctx, info)
}

// DownloadLeaderboardEntries fetches rows of a leaderboard. Global takes ranks
// start..end; GlobalAroundUser takes ranks relative to the user's own; Friends
// takes the user and their friends with global ranks. The call result is
// LeaderboardScoresDownloaded and its entries handle is read with GetDownloadedLeaderboardEntry.
func (c *Client) DownloadLeaderboardEntries(ctx context.Context, h core.LeaderboardHandle, req core.LeaderboardDataRequest, start, end int) (core.APICall, error) {
	if h == 0 {
		return core.InvalidAPICall, fmt.Errorf("leaderboard handle 0: %w", core.ErrInvalidHandle)
	}
	if !req.Valid() {
		return core.InvalidAPICall, fmt.Errorf("data request %d: %w", req, core.ErrInvalidParam)
	}
	if req != core.LeaderboardDataRequestFriends && start > end {
		return core.InvalidAPICall, fmt.Errorf("range %d..%d: %w", start, end, core.ErrInvalidParam)
	}
	id, err := c.loggedOnID()
	if err != nil {
		return core.InvalidAPICall, err
	}
	call := c.p.calls.Begin(c.h, core.CallbackLeaderboardScoresDownloaded)
	err = c.p.async(ctx, func(ctx context.Context) {
		b, err := c.resolveBoard(ctx, h)
		if err != nil {
			c.p.logger.Warn("download entries failed", zap.Uint64("handle", uint64(h)), zap.Error(err))
			_ = c.p.calls.Fail(ctx, call)
			return
		}
		rows, err := c.selectRows(ctx, b.list, id, req, start, end)
		if err != nil {
			c.p.logger.Warn("download entries failed", zap.Uint64("handle", uint64(h)), zap.Error(err))
			_ = c.p.calls.Fail(ctx, call)
			return
		}
		eh := core.LeaderboardEntriesHandle(c.p.nextEntries.Add(1))
		c.mu.Lock()
		// an empty download has nothing to read, so its handle is never registered
		if len(rows) > 0 {
			c.entries[eh] = &downloaded{board: h, rows: rows, read: make([]bool, len(rows)), unread: len(rows)}
		}
		c.boards[h] = boardMeta{info: b.info, count: b.list.Len()}
		c.mu.Unlock()
		_ = c.p.calls.Complete(ctx, call, core.LeaderboardScoresDownloaded{Leaderboard: h, Entries: eh, EntryCount: int32(len(rows))})
	})
	if err != nil {
		c.p.calls.Abandon(call)
		return core.InvalidAPICall, err
	}
	return call, nil
}

func (c *Client) selectRows(ctx context.Context, list leaderboard.Board, id core.SteamID, req core.LeaderboardDataRequest, start, end int) ([]leaderboard.Ranked, error) {
	switch req {
	case core.LeaderboardDataRequestGlobal:
		return list.Range(start, end), nil
	case core.LeaderboardDataRequestGlobalAroundUser:
		own, ok := list.Get(id)
		if !ok {
			return nil, nil
		}
		return list.Range(own.Rank+start, own.Rank+end), nil
	case core.LeaderboardDataRequestFriends:
		friends, err := c.p.store.GetFriends(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load friends: %w", err)
		}
		var rows []leaderboard.Ranked
		for _, u := range append([]core.SteamID{id}, friends...) {
			if r, ok := list.Get(u); ok {
				rows = append(rows, r)
			}
		}
		slices.SortFunc(rows, func(a, b leaderboard.Ranked) int { return a.Rank - b.Rank })
		return slices.CompactFunc(rows, func(a, b leaderboard.Ranked) bool { return a.User == b.User }), nil
	}
	return nil, fmt.Errorf("data request %d: %w", req, core.ErrInvalidParam)
}

// GetDownloadedLeaderboardEntry returns row index of a download and up to maxDetails
// of its details. Once every row has been read the handle is released.
func (c *Client) GetDownloadedLeaderboardEntry(entries core.LeaderboardEntriesHandle, index, maxDetails int) (core.LeaderboardEntry, []int32, error) {
	if maxDetails < 0 {
		return core.LeaderboardEntry{}, nil, fmt.Errorf("max details %d: %w", maxDetails, core.ErrInvalidParam)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[entries]
	if !ok {
		return core.LeaderboardEntry{}, nil, fmt.Errorf("entries handle %d: %w", entries, core.ErrInvalidHandle)
	}
	if index < 0 || index >= len(d.rows) {
		return core.LeaderboardEntry{}, nil, fmt.Errorf("entry index %d of %d: %w", index, len(d.rows), core.ErrInvalidParam)
	}
	row := d.rows[index]
	entry := core.LeaderboardEntry{
		SteamIDUser: row.User,
		GlobalRank:  int32(row.Rank),
		Score:       row.Score,
		Details:     int32(len(row.Details)),
	}
	n := min(maxDetails, len(row.Details))
	details := slices.Clone(row.Details[:n])
	if !d.read[index] {
		d.read[index] = true
		d.unread--
		if d.unread == 0 {
			delete(c.entries, entries)
		}
	}
	return entry, details, nil
}

// UploadLeaderboardScore submits score for the logged on user. The board keeps
// the better of the old and new score under its sort method. The call result is
// LeaderboardScoreUploaded.
func (c *Client) UploadLeaderboardScore(ctx context.Context, h core.LeaderboardHandle, score int32, details []int32) (core.APICall, error) {
	if h == 0 {
		return core.InvalidAPICall, fmt.Errorf("leaderboard handle 0: %w", core.ErrInvalidHandle)
	}
	if len(details) > core.LeaderboardDetailsMax {
		return core.InvalidAPICall, fmt.Errorf("%d details, limit %d: %w", len(details), core.LeaderboardDetailsMax, core.ErrTooManyDetails)
	}
	id, err := c.loggedOnID()
	if err != nil {
		return core.InvalidAPICall, err
	}
	details = slices.Clone(details)
	call := c.p.calls.Begin(c.h, core.CallbackLeaderboardScoreUploaded)
	err = c.p.async(ctx, func(ctx context.Context) {
		b, err := c.resolveBoard(ctx, h)
		if err != nil {
			c.p.logger.Warn("upload score failed", zap.Uint64("handle", uint64(h)), zap.Error(err))
			_ = c.p.calls.Fail(ctx, call)
			return
		}
		res := c.p.submitScore(ctx, b, id, score, details)
		c.remember(b.info, b.list.Len())
		_ = c.p.calls.Complete(ctx, call, res)
	})
	if err != nil {
		c.p.calls.Abandon(call)
		return core.InvalidAPICall, err
	}
	return call, nil
}

func (p *Platform) submitScore(ctx context.Context, b *boardState, id core.SteamID, score int32, details []int32) core.LeaderboardScoreUploaded {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := core.LeaderboardScoreUploaded{Leaderboard: b.info.Handle, Score: score}
	prev, had := b.list.Get(id)
	if had {
		res.GlobalRankPrevious = int32(prev.Rank)
		if !b.info.Sort.Better(score, prev.Score) {
			res.Success = 1
			res.GlobalRankNew = int32(prev.Rank)
			return res
		}
	}
	rec := core.ScoreRecord{SteamID: id, Score: score, Details: details, UpdatedAt: p.now().UTC()}
	if err := p.store.PutScore(ctx, b.info.Handle, rec); err != nil {
		p.logger.Warn("persist score failed", zap.Uint64("handle", uint64(b.info.Handle)), zap.Error(err))
		res.GlobalRankNew = res.GlobalRankPrevious
		return res
	}
	b.list.Update(leaderboard.Entry{User: id, Score: score, Details: details, UpdatedAt: rec.UpdatedAt})
	now, _ := b.list.Get(id)
	res.Success = 1
	res.ScoreChanged = 1
	res.GlobalRankNew = int32(now.Rank)
	return res
}
