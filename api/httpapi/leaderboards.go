package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"steamkit/core"
)

type callResponse struct {
	Call core.APICall `json:"call"`
}

type findLeaderboardRequest struct {
	Name    string                      `json:"name" validate:"required"`
	Create  bool                        `json:"create"`
	Sort    core.LeaderboardSortMethod  `json:"sort" validate:"gte=0,lte=2"`
	Display core.LeaderboardDisplayType `json:"display" validate:"gte=0,lte=3"`
}

type uploadScoreRequest struct {
	Score   int32   `json:"score"`
	Details []int32 `json:"details"`
}

type downloadRequest struct {
	Request core.LeaderboardDataRequest `json:"request" validate:"gte=0,lte=2"`
	Start   int                         `json:"start"`
	End     int                         `json:"end"`
}

// LeaderboardInfo is the client's cached view of a leaderboard.
type LeaderboardInfo struct {
	Handle     core.LeaderboardHandle      `json:"handle"`
	Name       string                      `json:"name"`
	EntryCount int                         `json:"entry_count"`
	Sort       core.LeaderboardSortMethod  `json:"sort"`
	Display    core.LeaderboardDisplayType `json:"display"`
}

// DownloadedEntry is one row read from an entries handle.
type DownloadedEntry struct {
	Entry   core.LeaderboardEntry `json:"entry"`
	Details []int32               `json:"details"`
}

func (a *api) leaderboardRoutes(r chi.Router) {
	r.Post("/leaderboards", a.findLeaderboard)
	r.Get("/leaderboards/{handle}", a.leaderboardInfo)
	r.Post("/leaderboards/{handle}/scores", a.uploadScore)
	r.Post("/leaderboards/{handle}/downloads", a.downloadEntries)
	r.Get("/entries/{entries}/{index}", a.downloadedEntry)
}

func handleParam(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, core.ErrInvalidHandle
	}
	return v, nil
}

func (a *api) findLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req findLeaderboardRequest
	if !a.decode(w, r, &req) {
		return
	}
	c := clientFrom(r)
	var (
		call core.APICall
		err  error
	)
	if req.Create {
		call, err = c.FindOrCreateLeaderboard(r.Context(), req.Name, req.Sort, req.Display)
	} else {
		call, err = c.FindLeaderboard(r.Context(), req.Name)
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, callResponse{Call: call})
}

func (a *api) leaderboardInfo(w http.ResponseWriter, r *http.Request) {
	v, err := handleParam(r, "handle")
	if err != nil {
		a.fail(w, err)
		return
	}
	c, h := clientFrom(r), core.LeaderboardHandle(v)
	writeJSON(w, http.StatusOK, LeaderboardInfo{
		Handle:     h,
		Name:       c.GetLeaderboardName(h),
		EntryCount: c.GetLeaderboardEntryCount(h),
		Sort:       c.GetLeaderboardSortMethod(h),
		Display:    c.GetLeaderboardDisplayType(h),
	})
}

func (a *api) uploadScore(w http.ResponseWriter, r *http.Request) {
	v, err := handleParam(r, "handle")
	if err != nil {
		a.fail(w, err)
		return
	}
	var req uploadScoreRequest
	if !a.decode(w, r, &req) {
		return
	}
	call, err := clientFrom(r).UploadLeaderboardScore(r.Context(), core.LeaderboardHandle(v), req.Score, req.Details)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, callResponse{Call: call})
}

func (a *api) downloadEntries(w http.ResponseWriter, r *http.Request) {
	v, err := handleParam(r, "handle")
	if err != nil {
		a.fail(w, err)
		return
	}
	var req downloadRequest
	if !a.decode(w, r, &req) {
		return
	}
	call, err := clientFrom(r).DownloadLeaderboardEntries(r.Context(), core.LeaderboardHandle(v), req.Request, req.Start, req.End)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, callResponse{Call: call})
}

// downloadedEntry reads one row; ?max_details= defaults to every stored detail.
func (a *api) downloadedEntry(w http.ResponseWriter, r *http.Request) {
	eh, err := handleParam(r, "entries")
	if err != nil {
		a.fail(w, err)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		a.fail(w, core.ErrInvalidParam)
		return
	}
	maxDetails := core.LeaderboardDetailsMax
	if raw := r.URL.Query().Get("max_details"); raw != "" {
		if maxDetails, err = strconv.Atoi(raw); err != nil {
			a.fail(w, core.ErrInvalidParam)
			return
		}
	}
	entry, details, err := clientFrom(r).GetDownloadedLeaderboardEntry(core.LeaderboardEntriesHandle(eh), index, maxDetails)
	if err != nil {
		a.fail(w, err)
		return
	}
	if details == nil {
		details = []int32{}
	}
	writeJSON(w, http.StatusOK, DownloadedEntry{Entry: entry, Details: details})
}
