package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tetatet/internal/models"
	"tetatet/internal/storage"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	loginFailedMessage = "Login failed"
)

var (
	ErrUserExists = errors.New("user already exists")
)

type credentialStore interface {
	GetUserByName(userName string) (storage.UserRecord, error)
	UpsertUser(rec storage.UserRecord) error
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
}

type Config struct {
	TokenExpiry time.Duration
}

func (c *Config) Validate() error {
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must be greater than 0")
	}
	return nil
}

// loginState tracks consecutive failed attempts per username to throttle
// brute force attacks.
type loginState struct {
	FailedAttempts int64
	LastAttempt    int64
}

// AuthService issues and resolves opaque session tokens. Tokens live in a
// TTL cache; credentials live in the user store.
type AuthService struct {
	Config
	store      credentialStore
	liveTokens geche.Geche[string, string]
	attempts   *geche.Locker[string, *loginState]
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store credentialStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:     config,
		store:      store,
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		attempts:   geche.NewLocker[string, *loginState](geche.NewMapCache[string, *loginState]()),
		now:        time.Now,
	}, nil
}

// AddUser creates an active user with the given password. Fails with
// ErrUserExists if the login name is taken.
func (as *AuthService) AddUser(username, displayName, password string) (models.User, error) {
	if _, err := as.store.GetUserByName(username); err == nil {
		return models.User{}, ErrUserExists
	} else if !errors.Is(err, models.ErrNotFound) {
		return models.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	if displayName == "" {
		displayName = username
	}
	user := models.User{
		ID:          uuid.NewString(),
		UserName:    username,
		DisplayName: displayName,
		Status:      models.UserStatusActive,
	}
	if err := as.store.UpsertUser(storage.UserRecord{
		User:         user,
		PasswordHash: string(hash),
	}); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// Login checks the credentials and, on success, mints a session token.
// The second return value is the user id, empty on failure.
func (as *AuthService) Login(req LoginRequest) (LoginResponse, string) {
	now := as.now()

	tx := as.attempts.Lock()
	defer tx.Unlock()
	state, err := tx.Get(req.Username)
	if err != nil {
		state = &loginState{}
		tx.Set(req.Username, state)
	}

	if state.FailedAttempts > 3 {
		nextAttempt := state.LastAttempt + 30*(state.FailedAttempts*state.FailedAttempts)
		if now.Unix() < nextAttempt {
			return LoginResponse{
				Success: false,
				Message: fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}, ""
		}
	}

	fail := func() (LoginResponse, string) {
		state.FailedAttempts++
		state.LastAttempt = now.Unix()
		return LoginResponse{Success: false, Message: loginFailedMessage}, ""
	}

	rec, err := as.store.GetUserByName(req.Username)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			slog.Error("credential lookup failed", "error", err)
		}
		return fail()
	}
	if rec.Status != models.UserStatusActive {
		return fail()
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(req.Password)) != nil {
		return fail()
	}

	token, err := as.generateToken()
	if err != nil {
		slog.Error("login failed", "user_id", rec.ID, "error", err)
		return LoginResponse{Success: false, Message: "internal error"}, ""
	}

	as.liveTokens.Set(token, rec.ID)
	state.FailedAttempts = 0
	state.LastAttempt = now.Unix()

	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: now.Unix() + int64(as.TokenExpiry.Seconds()),
	}, rec.ID
}

func (as *AuthService) Logoff(token string) error {
	return as.liveTokens.Del(token)
}

// Resolve maps a live session token to its user id.
func (as *AuthService) Resolve(token string) (string, error) {
	return as.liveTokens.Get(token)
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
