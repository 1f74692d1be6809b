package sdk

import (
	"context"
	"net/http"
	"strconv"

	"steamkit/core"
)

// Admin wraps the operator endpoints.
type Admin struct{ c *Client }

// SetAvailable takes the platform up or down. Going down drops every session.
func (a *Admin) SetAvailable(ctx context.Context, up bool) error {
	return a.c.do(ctx, http.MethodPut, "/admin/availability", map[string]bool{"available": up}, nil)
}

// BanAccount bans id from app; app zero bans platform-wide.
func (a *Admin) BanAccount(ctx context.Context, id core.SteamID, app core.AppID) error {
	return a.c.do(ctx, http.MethodPost, "/admin/bans", map[string]any{"steam_id": id, "app_id": app}, nil)
}

func (a *Admin) SetFriends(ctx context.Context, id core.SteamID, friends ...core.SteamID) error {
	if friends == nil {
		friends = []core.SteamID{}
	}
	path := "/admin/friends/" + strconv.FormatUint(uint64(id), 10)
	return a.c.do(ctx, http.MethodPut, path, map[string]any{"friends": friends}, nil)
}

func (a *Admin) DenyGameServer(ctx context.Context, ip uint32, port uint16, reason uint32) error {
	return a.c.do(ctx, http.MethodPost, "/admin/denials", map[string]any{"ip": ip, "port": port, "reason": reason}, nil)
}

func (a *Admin) RegisterSchema(ctx context.Context, schema core.Schema) error {
	return a.c.do(ctx, http.MethodPut, "/admin/schemas", schema, nil)
}
