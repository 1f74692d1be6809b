package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"steamkit/core"
)

const ticketVersion = 1

// ticketBodySize covers version, steam id, server id, game id, ip, port, secure,
// issue time and nonce. The HMAC-SHA256 signature follows the body.
const ticketBodySize = 1 + 8 + 8 + 8 + 4 + 2 + 1 + 8 + 16

// TicketSize is the length of every auth ticket.
const TicketSize = ticketBodySize + sha256.Size

// TicketClaims is what a game server learns from a valid ticket.
type TicketClaims struct {
	SteamID  core.SteamID `json:"steam_id"`
	Server   core.SteamID `json:"server"`
	Game     core.GameID  `json:"game_id"`
	IP       uint32       `json:"ip"`
	Port     uint16       `json:"port"`
	Secure   bool         `json:"secure"`
	IssuedAt time.Time    `json:"issued_at"`
	Nonce    uuid.UUID    `json:"nonce"`
}

type ticketSigner struct {
	key []byte
	ttl time.Duration
}

func (s ticketSigner) sign(c TicketClaims) []byte {
	b := make([]byte, 0, TicketSize)
	b = append(b, ticketVersion)
	b = binary.BigEndian.AppendUint64(b, uint64(c.SteamID))
	b = binary.BigEndian.AppendUint64(b, uint64(c.Server))
	b = binary.BigEndian.AppendUint64(b, uint64(c.Game))
	b = binary.BigEndian.AppendUint32(b, c.IP)
	b = binary.BigEndian.AppendUint16(b, c.Port)
	if c.Secure {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = binary.BigEndian.AppendUint64(b, uint64(c.IssuedAt.Unix()))
	b = append(b, c.Nonce[:]...)
	mac := hmac.New(sha256.New, s.key)
	mac.Write(b)
	return mac.Sum(b)
}

func (s ticketSigner) verify(blob []byte, now time.Time) (TicketClaims, error) {
	if len(blob) != TicketSize {
		return TicketClaims{}, fmt.Errorf("ticket length %d: %w", len(blob), core.ErrInvalidTicket)
	}
	body, sig := blob[:ticketBodySize], blob[ticketBodySize:]
	mac := hmac.New(sha256.New, s.key)
	mac.Write(body)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return TicketClaims{}, fmt.Errorf("bad signature: %w", core.ErrInvalidTicket)
	}
	if body[0] != ticketVersion {
		return TicketClaims{}, fmt.Errorf("ticket version %d: %w", body[0], core.ErrInvalidTicket)
	}
	var c TicketClaims
	c.SteamID = core.SteamID(binary.BigEndian.Uint64(body[1:9]))
	c.Server = core.SteamID(binary.BigEndian.Uint64(body[9:17]))
	c.Game = core.GameID(binary.BigEndian.Uint64(body[17:25]))
	c.IP = binary.BigEndian.Uint32(body[25:29])
	c.Port = binary.BigEndian.Uint16(body[29:31])
	c.Secure = body[31] == 1
	c.IssuedAt = time.Unix(int64(binary.BigEndian.Uint64(body[32:40])), 0).UTC()
	copy(c.Nonce[:], body[40:56])
	if s.ttl > 0 && now.Sub(c.IssuedAt) > s.ttl {
		return TicketClaims{}, fmt.Errorf("ticket issued %s expired: %w", c.IssuedAt.Format(time.RFC3339), core.ErrInvalidTicket)
	}
	return c, nil
}
