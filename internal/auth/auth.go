// Package auth implements account registration, password login, session
// tokens and token revocation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/l1jgo/gamegate/internal/persist"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrBanned             = errors.New("account banned")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTokenInvalid       = errors.New("token invalid or expired")
)

const (
	UsernameMinLen = 3
	UsernameMaxLen = 20
	PasswordMinLen = 8
	passwordMaxLen = 72 // bcrypt input limit
)

// UserStore is the account persistence the service needs.
// *persist.UserRepo implements it.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*persist.UserRow, error)
	FindByEmail(ctx context.Context, email string) (*persist.UserRow, error)
	FindByID(ctx context.Context, id int64) (*persist.UserRow, error)
	Create(ctx context.Context, u *persist.UserRow) error
	UpdateLastLogin(ctx context.Context, id int64, ip string, at time.Time) error
	SetBan(ctx context.Context, id int64, banned bool, expires *time.Time) error
}

type Options struct {
	Secret     []byte
	Issuer     string
	Audience   string
	TokenTTL   time.Duration
	BcryptCost int
}

type LoginResult struct {
	UserID    int64
	Username  string
	Token     string
	ExpiresAt time.Time
}

// Service is built per request scope around that scope's UserStore; the
// token cache is shared.
type Service struct {
	users  UserStore
	tokens TokenCache
	opts   Options
	now    func() time.Time
	log    *zap.Logger
}

func NewService(users UserStore, tokens TokenCache, opts Options, log *zap.Logger) *Service {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{users: users, tokens: tokens, opts: opts, now: time.Now, log: log}
}

func validUsername(name string) bool {
	n := utf8.RuneCountInString(name)
	if n < UsernameMinLen || n > UsernameMaxLen {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

// Register creates an account and returns its id.
func (s *Service) Register(ctx context.Context, username, password, email string) (int64, error) {
	email = strings.TrimSpace(email)
	if !validUsername(username) {
		return 0, fmt.Errorf("%w: username must be %d-%d letters, digits or underscores",
			ErrInvalidInput, UsernameMinLen, UsernameMaxLen)
	}
	if len(password) < PasswordMinLen || len(password) > passwordMaxLen {
		return 0, fmt.Errorf("%w: password must be %d-%d bytes", ErrInvalidInput, PasswordMinLen, passwordMaxLen)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return 0, fmt.Errorf("%w: email", ErrInvalidInput)
	}

	existing, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("lookup username: %w", err)
	}
	if existing != nil {
		return 0, ErrUsernameTaken
	}
	existing, err = s.users.FindByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("lookup email: %w", err)
	}
	if existing != nil {
		return 0, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	u := &persist.UserRow{Username: username, Email: email, PasswordHash: string(hash)}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, persist.ErrDuplicate) {
			// Lost a race with a concurrent registration.
			return 0, ErrUsernameTaken
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("account registered", zap.Int64("user", u.ID), zap.String("username", username))
	return u.ID, nil
}

// Login checks credentials and ban state, then issues and caches a token.
func (s *Service) Login(ctx context.Context, username, password, ip string) (*LoginResult, error) {
	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if u.Banned {
		if u.BanExpiresAt == nil || now.Before(*u.BanExpiresAt) {
			return nil, ErrBanned
		}
		if err := s.users.SetBan(ctx, u.ID, false, nil); err != nil {
			return nil, fmt.Errorf("lift expired ban: %w", err)
		}
		s.log.Info("expired ban lifted", zap.Int64("user", u.ID))
	}

	token, expires, err := s.issue(u.ID, now)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Set(ctx, token, u.ID, s.opts.TokenTTL); err != nil {
		return nil, fmt.Errorf("cache token: %w", err)
	}
	if err := s.users.UpdateLastLogin(ctx, u.ID, ip, now); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}

	return &LoginResult{UserID: u.ID, Username: u.Username, Token: token, ExpiresAt: expires}, nil
}

// ValidateToken returns the user id behind a token. The token must carry
// a valid signature, be unexpired, and still be present in the cache.
func (s *Service) ValidateToken(ctx context.Context, token string) (int64, error) {
	userID, err := s.parse(token)
	if err != nil {
		return 0, err
	}
	cached, ok, err := s.tokens.Get(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("token cache: %w", err)
	}
	if !ok || cached != userID {
		return 0, ErrTokenInvalid
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return 0, ErrTokenInvalid
	}
	if u.Banned && (u.BanExpiresAt == nil || s.now().Before(*u.BanExpiresAt)) {
		return 0, ErrBanned
	}
	return userID, nil
}

// Logout revokes the token. Revoking an unknown token is not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.tokens.Delete(ctx, token)
}
