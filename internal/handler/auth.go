package handler

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/l1jgo/gamegate/internal/auth"
	"github.com/l1jgo/gamegate/internal/gateway"
	"github.com/l1jgo/gamegate/internal/net/packet"
)

// HandleLogin processes Login.
// Format: [S username][S password]
// Reply:  [D code][S msg][Q userID][S token][Q expiresAt][C hasPlayer]{player}
func HandleLogin(req *gateway.Request, deps *Deps) error {
	r := req.Reader()
	username := strings.TrimSpace(r.ReadS())
	password := r.ReadS()
	if r.Err() != nil || username == "" || password == "" {
		return gateway.Rejectf(packet.InvalidParams, "username and password required")
	}

	if deps.Logins != nil && !deps.Logins.Allow(req.Peer.RemoteAddr()) {
		deps.Metrics.Login(false)
		return gateway.Rejectf(packet.LoginFailed, "too many login attempts")
	}

	sc := scopeOf(req)
	res, err := sc.Auth().Login(req.Ctx, username, password, req.Peer.RemoteAddr())
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		deps.Metrics.Login(false)
		return gateway.Rejectf(packet.LoginFailed, "invalid username or password")
	case errors.Is(err, auth.ErrBanned):
		deps.Metrics.Login(false)
		return gateway.Rejectf(packet.AccountBanned, "account banned")
	case err != nil:
		deps.Metrics.Login(false)
		return err
	}

	players, err := sc.Players().ListByUser(req.Ctx, res.UserID)
	if err != nil {
		deps.Metrics.Login(false)
		if lerr := sc.Auth().Logout(req.Ctx, res.Token); lerr != nil {
			req.Log.Warn("revoke token after failed login", zap.Error(lerr))
		}
		return err
	}

	// Logging in again on the same connection replaces the old identity.
	if req.State.Authenticated {
		DetachEntity(req, deps)
	}
	req.State.Authenticate(res.UserID, res.Token)

	w := success()
	w.WriteQ(res.UserID)
	w.WriteS(res.Token)
	w.WriteQ(res.ExpiresAt.Unix())
	if len(players) > 0 {
		p := &players[0]
		if err := AttachEntity(req, deps, p); err != nil {
			req.Log.Warn("login character already online elsewhere", zap.Int64("entity", p.ID))
			w.WriteC(0)
		} else {
			w.WriteC(1)
			writePlayer(w, p)
		}
	} else {
		w.WriteC(0)
	}

	deps.Metrics.Login(true)
	req.Log.Info("login", zap.Int64("user", res.UserID), zap.String("username", res.Username))
	req.Reply(w.Bytes())
	return nil
}

// HandleRegister processes Register.
// Format: [S username][S password][S email]
// Reply:  [D code][S msg][Q userID]
func HandleRegister(req *gateway.Request, deps *Deps) error {
	r := req.Reader()
	username := strings.TrimSpace(r.ReadS())
	password := r.ReadS()
	email := r.ReadS()
	if r.Err() != nil {
		return gateway.Rejectf(packet.InvalidParams, "malformed register request")
	}

	id, err := scopeOf(req).Auth().Register(req.Ctx, username, password, email)
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		return gateway.Rejectf(packet.UsernameExists, "username already exists")
	case errors.Is(err, auth.ErrEmailTaken):
		return gateway.Rejectf(packet.RegisterFailed, "email already registered")
	case errors.Is(err, auth.ErrInvalidInput):
		return gateway.Rejectf(packet.InvalidParams, "%s", strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "))
	case err != nil:
		return err
	}

	w := success()
	w.WriteQ(id)
	req.Reply(w.Bytes())
	return nil
}

// HandleReconnect restores an authenticated session from a token.
// Format: [S token]
// Reply:  [D code][S msg][Q userID]
func HandleReconnect(req *gateway.Request, deps *Deps) error {
	r := req.Reader()
	token := r.ReadS()
	if r.Err() != nil || token == "" {
		return gateway.Rejectf(packet.TokenInvalid, "token required")
	}

	userID, err := scopeOf(req).Auth().ValidateToken(req.Ctx, token)
	switch {
	case errors.Is(err, auth.ErrTokenInvalid):
		return gateway.Rejectf(packet.TokenInvalid, "token invalid or expired")
	case errors.Is(err, auth.ErrBanned):
		return gateway.Rejectf(packet.AccountBanned, "account banned")
	case err != nil:
		return err
	}

	if req.State.Authenticated && req.State.UserID != userID {
		DetachEntity(req, deps)
	}
	req.State.Authenticate(userID, token)

	w := success()
	w.WriteQ(userID)
	req.Reply(w.Bytes())
	return nil
}

// HandleLogout revokes the session token and drops the identity.
func HandleLogout(req *gateway.Request, deps *Deps) error {
	DetachEntity(req, deps)
	if err := scopeOf(req).Auth().Logout(req.Ctx, req.State.Token); err != nil {
		// The session is logged out locally either way.
		req.Log.Warn("token revoke failed", zap.Error(err))
	}
	req.Log.Info("logout", zap.Int64("user", req.State.UserID))
	req.State.ClearAuth()
	req.Reply(success().Bytes())
	return nil
}
