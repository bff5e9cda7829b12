package handler

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/l1jgo/gamegate/internal/gateway"
	"github.com/l1jgo/gamegate/internal/net/packet"
	"github.com/l1jgo/gamegate/internal/persist"
)

// HandleGetPlayerList lists the account's characters.
// Reply: [D code][S msg][C count]{player}*
func HandleGetPlayerList(req *gateway.Request, deps *Deps) error {
	players, err := scopeOf(req).Players().ListByUser(req.Ctx, req.State.UserID)
	if err != nil {
		return err
	}
	w := success()
	w.WriteC(byte(len(players)))
	for i := range players {
		writePlayer(w, &players[i])
	}
	req.Reply(w.Bytes())
	return nil
}

func validPlayerName(name string, minLen, maxLen int) bool {
	n := utf8.RuneCountInString(name)
	if n < minLen || n > maxLen {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// HandleCreatePlayer creates a character for the account.
// Format: [S name]
// Reply:  [D code][S msg]{player}
func HandleCreatePlayer(req *gateway.Request, deps *Deps) error {
	r := req.Reader()
	name := strings.TrimSpace(r.ReadS())
	cc := deps.Config.Character
	if r.Err() != nil || !validPlayerName(name, cc.NameMinLength, cc.NameMaxLength) {
		return gateway.Rejectf(packet.InvalidParams, "name must be %d-%d letters or digits",
			cc.NameMinLength, cc.NameMaxLength)
	}

	players := scopeOf(req).Players()
	count, err := players.CountByUser(req.Ctx, req.State.UserID)
	if err != nil {
		return err
	}
	if count >= cc.MaxPerAccount {
		return gateway.Rejectf(packet.PlayerLimit, "at most %d characters per account", cc.MaxPerAccount)
	}
	exists, err := players.NameExists(req.Ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return gateway.Rejectf(packet.NameExists, "name already taken")
	}

	p := &persist.PlayerRow{UserID: req.State.UserID, Name: name, Level: 1}
	if err := players.Create(req.Ctx, p); err != nil {
		if errors.Is(err, persist.ErrDuplicate) {
			return gateway.Rejectf(packet.NameExists, "name already taken")
		}
		return err
	}

	req.Log.Info("character created", zap.Int64("entity", p.ID), zap.String("name", name))
	w := success()
	writePlayer(w, p)
	req.Reply(w.Bytes())
	return nil
}

// loadOwned returns the live character id owned by the session's account.
func loadOwned(req *gateway.Request, id int64) (*persist.PlayerRow, error) {
	p, err := scopeOf(req).Players().Get(req.Ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil || p.UserID != req.State.UserID {
		return nil, gateway.Rejectf(packet.PlayerNotFound, "character not found")
	}
	return p, nil
}

// HandleSelectPlayer attaches a character to the connection.
// Format: [Q playerID]
// Reply:  [D code][S msg]{player}
func HandleSelectPlayer(req *gateway.Request, deps *Deps) error {
	r := req.Reader()
	id := r.ReadQ()
	if r.Err() != nil {
		return gateway.Rejectf(packet.InvalidParams, "player id required")
	}
	p, err := loadOwned(req, id)
	if err != nil {
		return err
	}
	if err := AttachEntity(req, deps, p); err != nil {
		if errors.Is(err, ErrAlreadyOnline) {
			return gateway.Rejectf(packet.PlayerNotFound, "character is online on another connection")
		}
		return err
	}

	w := success()
	writePlayer(w, p)
	req.Reply(w.Bytes())
	return nil
}

// HandleDeletePlayer soft-deletes a character. The attached character
// cannot be deleted.
// Format: [Q playerID]
func HandleDeletePlayer(req *gateway.Request, deps *Deps) error {
	r := req.Reader()
	id := r.ReadQ()
	if r.Err() != nil {
		return gateway.Rejectf(packet.InvalidParams, "player id required")
	}
	if req.State.EntityID == id {
		return gateway.Rejectf(packet.InvalidParams, "cannot delete the selected character")
	}
	if _, online := deps.Online.Get(id); online {
		return gateway.Rejectf(packet.InvalidParams, "character is online")
	}

	deleted, err := scopeOf(req).Players().SoftDelete(req.Ctx, id, req.State.UserID)
	if err != nil {
		return err
	}
	if !deleted {
		return gateway.Rejectf(packet.PlayerNotFound, "character not found")
	}
	req.Log.Info("character deleted", zap.Int64("entity", id))
	req.Reply(success().Bytes())
	return nil
}
