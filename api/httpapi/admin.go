package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"steamkit/core"
)

type availabilityRequest struct {
	Available *bool `json:"available" validate:"required"`
}

type banRequest struct {
	SteamID core.SteamID `json:"steam_id" validate:"required"`
	AppID   core.AppID   `json:"app_id"`
}

type friendsRequest struct {
	Friends []core.SteamID `json:"friends" validate:"max=2000,dive,required"`
}

type denyRequest struct {
	IP     uint32 `json:"ip"`
	Port   uint16 `json:"port" validate:"required"`
	Reason uint32 `json:"reason"`
}

type ticketRequest struct {
	Ticket []byte `json:"ticket" validate:"required"`
}

func (a *api) setAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.p.SetAvailable(r.Context(), *req.Available)
	a.logger.Info("platform availability changed", zap.Bool("available", *req.Available))
	writeJSON(w, http.StatusOK, map[string]bool{"available": a.p.Available()})
}

func (a *api) banAccount(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.p.BanAccount(r.Context(), req.SteamID, req.AppID); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) setFriends(w http.ResponseWriter, r *http.Request) {
	id, err := steamIDParam(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var req friendsRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.p.SetFriends(r.Context(), id, req.Friends...); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) denyGameServer(w http.ResponseWriter, r *http.Request) {
	var req denyRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.p.DenyGameServer(req.IP, req.Port, req.Reason)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) registerSchema(w http.ResponseWriter, r *http.Request) {
	var schema core.Schema
	if !a.decode(w, r, &schema) {
		return
	}
	if err := a.p.RegisterSchema(schema); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateTicket is the game-server side of InitiateGameConnection.
func (a *api) validateTicket(w http.ResponseWriter, r *http.Request) {
	var req ticketRequest
	if !a.decode(w, r, &req) {
		return
	}
	claims, err := a.p.ValidateTicket(req.Ticket)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}
