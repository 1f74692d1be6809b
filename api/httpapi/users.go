package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"steamkit/core"
	"steamkit/engine"
)

type connectRequest struct {
	GameID core.GameID `json:"game_id" validate:"required"`
}

type logonRequest struct {
	SteamID core.SteamID `json:"steam_id" validate:"required"`
}

type registryValue struct {
	Value string `json:"value" validate:"max=4096"`
}

type gameConnectionRequest struct {
	MaxBlob  int          `json:"max_blob" validate:"gte=0"`
	ServerID core.SteamID `json:"server_id"`
	GameID   core.GameID  `json:"game_id" validate:"required"`
	IP       uint32       `json:"ip"`
	Port     uint16       `json:"port" validate:"required"`
	Secure   bool         `json:"secure"`
}

type usageEventRequest struct {
	GameID core.GameID `json:"game_id" validate:"required"`
	Event  int         `json:"event"`
	Extra  string      `json:"extra" validate:"max=1024"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type languageRequest struct {
	Language string `json:"language" validate:"required,max=32"`
}

type netAddressRequest struct {
	IP   uint32 `json:"ip"`
	Port uint16 `json:"port" validate:"required"`
}

// ClientState describes one client session.
type ClientState struct {
	HUser       core.HUser          `json:"huser"`
	GameID      core.GameID         `json:"game_id"`
	LoggedOn    bool                `json:"logged_on"`
	LogonState  string              `json:"logon_state"`
	Connected   bool                `json:"connected"`
	SteamID     core.SteamID        `json:"steam_id,omitempty"`
	PrimaryChat bool                `json:"primary_chat"`
	Usage       []engine.UsageEvent `json:"usage,omitempty"`
}

func stateOf(c *engine.Client) ClientState {
	return ClientState{
		HUser:       c.HSteamUser(),
		GameID:      c.Game(),
		LoggedOn:    c.LoggedOn(),
		LogonState:  c.LogonState().String(),
		Connected:   c.Connected(),
		SteamID:     c.SteamID(),
		PrimaryChat: c.IsPrimaryChatDestination(),
		Usage:       c.UsageEvents(),
	}
}

func (a *api) userRoutes(r chi.Router) {
	r.Post("/logon", a.logOn)
	r.Post("/logoff", a.logOff)
	r.Get("/registry/{tree}/{key}", a.getRegistry)
	r.Put("/registry/{tree}/{key}", a.setRegistry)
	r.Post("/connections", a.initiateGameConnection)
	r.Delete("/connections/{ip}/{port}", a.terminateGameConnection)
	r.Post("/usage", a.trackUsage)
	r.Get("/vac/{app}", a.vacStatus)
	r.Post("/vac/{app}/ack", a.acknowledgeVAC)
	r.Put("/email", a.setEmail)
	r.Put("/language", a.setLanguage)
	r.Post("/net-addresses", a.addNetAddress)
	r.Post("/primary-chat", a.setPrimaryChat)
}

func (a *api) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !a.decode(w, r, &req) {
		return
	}
	c, err := a.p.Connect(req.GameID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stateOf(c))
}

func (a *api) disconnect(w http.ResponseWriter, r *http.Request) {
	clientFrom(r).Close(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) clientState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateOf(clientFrom(r)))
}

func (a *api) logOn(w http.ResponseWriter, r *http.Request) {
	var req logonRequest
	if !a.decode(w, r, &req) {
		return
	}
	c := clientFrom(r)
	if err := c.LogOn(r.Context(), req.SteamID); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOf(c))
}

func (a *api) logOff(w http.ResponseWriter, r *http.Request) {
	c := clientFrom(r)
	if err := c.LogOff(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateOf(c))
}

func registryPath(r *http.Request) (core.ConfigSubTree, string, error) {
	tree, err := core.ParseConfigSubTree(chi.URLParam(r, "tree"))
	if err != nil {
		return 0, "", err
	}
	return tree, chi.URLParam(r, "key"), nil
}

// getRegistry returns the value as a string; ?type=int reads it through GetRegistryInt.
func (a *api) getRegistry(w http.ResponseWriter, r *http.Request) {
	tree, key, err := registryPath(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	c := clientFrom(r)
	if r.URL.Query().Get("type") == "int" {
		v, err := c.GetRegistryInt(r.Context(), tree, key)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"value": v})
		return
	}
	v, err := c.GetRegistryString(r.Context(), tree, key)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registryValue{Value: v})
}

func (a *api) setRegistry(w http.ResponseWriter, r *http.Request) {
	tree, key, err := registryPath(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var req registryValue
	if !a.decode(w, r, &req) {
		return
	}
	if err := clientFrom(r).SetRegistryString(r.Context(), tree, key, req.Value); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) initiateGameConnection(w http.ResponseWriter, r *http.Request) {
	req := gameConnectionRequest{MaxBlob: engine.TicketSize}
	if !a.decode(w, r, &req) {
		return
	}
	ticket, err := clientFrom(r).InitiateGameConnection(r.Context(), req.MaxBlob, req.ServerID, req.GameID, req.IP, req.Port, req.Secure)
	if err != nil {
		a.fail(w, err)
		return
	}
	// []byte encodes as base64
	writeJSON(w, http.StatusOK, map[string]any{"ticket": ticket})
}

func (a *api) terminateGameConnection(w http.ResponseWriter, r *http.Request) {
	ip, err := strconv.ParseUint(chi.URLParam(r, "ip"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_ip", "ip must be a uint32", nil)
		return
	}
	port, err := strconv.ParseUint(chi.URLParam(r, "port"), 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_port", "port must be a uint16", nil)
		return
	}
	if err := clientFrom(r).TerminateGameConnection(r.Context(), uint32(ip), uint16(port)); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) trackUsage(w http.ResponseWriter, r *http.Request) {
	var req usageEventRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := clientFrom(r).TrackAppUsageEvent(r.Context(), req.GameID, req.Event, req.Extra); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func appParam(r *http.Request) (core.AppID, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, "app"), 10, 32)
	if err != nil {
		return 0, core.ErrInvalidParam
	}
	return core.AppID(v), nil
}

func (a *api) vacStatus(w http.ResponseWriter, r *http.Request) {
	app, err := appParam(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	c := clientFrom(r)
	banned, err := c.IsVACBanned(r.Context(), core.NewGameID(app))
	if err != nil {
		a.fail(w, err)
		return
	}
	show, err := c.RequireShowVACBannedMessage(r.Context(), app)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"banned": banned, "show_message": show})
}

func (a *api) acknowledgeVAC(w http.ResponseWriter, r *http.Request) {
	app, err := appParam(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	if err := clientFrom(r).AcknowledgeVACBanning(r.Context(), app); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) setEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := clientFrom(r).SetEmail(r.Context(), req.Email); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) setLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := clientFrom(r).SetLanguage(r.Context(), req.Language); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) addNetAddress(w http.ResponseWriter, r *http.Request) {
	var req netAddressRequest
	if !a.decode(w, r, &req) {
		return
	}
	clientFrom(r).AddServerNetAddress(req.IP, req.Port)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) setPrimaryChat(w http.ResponseWriter, r *http.Request) {
	clientFrom(r).SetSelfAsPrimaryChatDestination()
	w.WriteHeader(http.StatusNoContent)
}
