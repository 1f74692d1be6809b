package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"steamkit/core"
)

// statValue carries exactly one of Int or Float.
type statValue struct {
	Int   *int32   `json:"int,omitempty" validate:"required_without=Float,excluded_with=Float"`
	Float *float32 `json:"float,omitempty" validate:"required_without=Int"`
}

type avgRateRequest struct {
	Count         float32 `json:"count"`
	SessionLength float64 `json:"session_length" validate:"gt=0"`
}

type progressRequest struct {
	Current uint32 `json:"current"`
	Max     uint32 `json:"max" validate:"required,gtefield=Current"`
}

type resetRequest struct {
	Achievements bool `json:"achievements"`
}

// Achievement is the state and display data of one achievement.
type Achievement struct {
	Name        string `json:"name"`
	Achieved    bool   `json:"achieved"`
	Icon        int    `json:"icon"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

func (a *api) statsRoutes(r chi.Router) {
	r.Post("/stats/request", a.requestCurrentStats)
	r.Post("/stats/store", a.storeStats)
	r.Post("/stats/reset", a.resetStats)
	r.Get("/stats/{name}", a.getStat)
	r.Put("/stats/{name}", a.setStat)
	r.Post("/stats/{name}/avgrate", a.updateAvgRate)
	r.Get("/achievements/{name}", a.getAchievement)
	r.Put("/achievements/{name}", a.setAchievement)
	r.Delete("/achievements/{name}", a.clearAchievement)
	r.Post("/achievements/{name}/progress", a.indicateProgress)
	r.Post("/users/{steamid}/stats", a.requestUserStats)
	r.Get("/users/{steamid}/stats/{name}", a.getUserStat)
	r.Get("/users/{steamid}/achievements/{name}", a.getUserAchievement)
}

// requestCurrentStats answers 202; UserStatsReceived arrives on the callback stream.
func (a *api) requestCurrentStats(w http.ResponseWriter, r *http.Request) {
	if err := clientFrom(r).RequestCurrentStats(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) storeStats(w http.ResponseWriter, r *http.Request) {
	if err := clientFrom(r).StoreStats(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) resetStats(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := clientFrom(r).ResetAllStats(r.Context(), req.Achievements); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getStat reads an int stat unless ?type=float.
func (a *api) getStat(w http.ResponseWriter, r *http.Request) {
	c, name := clientFrom(r), chi.URLParam(r, "name")
	if r.URL.Query().Get("type") == "float" {
		v, err := c.GetStatFloat32(name)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statValue{Float: &v})
		return
	}
	v, err := c.GetStatInt32(name)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statValue{Int: &v})
}

func (a *api) setStat(w http.ResponseWriter, r *http.Request) {
	var req statValue
	if !a.decode(w, r, &req) {
		return
	}
	c, name := clientFrom(r), chi.URLParam(r, "name")
	var err error
	if req.Int != nil {
		err = c.SetStatInt32(name, *req.Int)
	} else {
		err = c.SetStatFloat32(name, *req.Float)
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) updateAvgRate(w http.ResponseWriter, r *http.Request) {
	var req avgRateRequest
	if !a.decode(w, r, &req) {
		return
	}
	c, name := clientFrom(r), chi.URLParam(r, "name")
	if err := c.UpdateAvgRateStat(name, req.Count, req.SessionLength); err != nil {
		a.fail(w, err)
		return
	}
	v, err := c.GetStatFloat32(name)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statValue{Float: &v})
}

func (a *api) getAchievement(w http.ResponseWriter, r *http.Request) {
	c, name := clientFrom(r), chi.URLParam(r, "name")
	achieved, err := c.GetAchievement(name)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Achievement{
		Name:        name,
		Achieved:    achieved,
		Icon:        c.GetAchievementIcon(name),
		DisplayName: c.GetAchievementDisplayAttribute(name, "name"),
		Description: c.GetAchievementDisplayAttribute(name, "desc"),
	})
}

func (a *api) setAchievement(w http.ResponseWriter, r *http.Request) {
	if err := clientFrom(r).SetAchievement(chi.URLParam(r, "name")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) clearAchievement(w http.ResponseWriter, r *http.Request) {
	if err := clientFrom(r).ClearAchievement(chi.URLParam(r, "name")); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) indicateProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := clientFrom(r).IndicateAchievementProgress(chi.URLParam(r, "name"), req.Current, req.Max); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func steamIDParam(r *http.Request) (core.SteamID, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, "steamid"), 10, 64)
	if err != nil {
		return 0, core.ErrInvalidSteamID
	}
	return core.SteamID(v), nil
}

func (a *api) requestUserStats(w http.ResponseWriter, r *http.Request) {
	id, err := steamIDParam(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	call, err := clientFrom(r).RequestUserStats(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, callResponse{Call: call})
}

func (a *api) getUserStat(w http.ResponseWriter, r *http.Request) {
	id, err := steamIDParam(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	c, name := clientFrom(r), chi.URLParam(r, "name")
	if r.URL.Query().Get("type") == "float" {
		v, err := c.GetUserStatFloat32(id, name)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statValue{Float: &v})
		return
	}
	v, err := c.GetUserStatInt32(id, name)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statValue{Int: &v})
}

func (a *api) getUserAchievement(w http.ResponseWriter, r *http.Request) {
	id, err := steamIDParam(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	achieved, err := clientFrom(r).GetUserAchievement(id, name)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "achieved": achieved})
}
