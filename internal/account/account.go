package account

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"classsync/internal/attendance"
	"classsync/internal/auth"
)

const minPasswordLen = 8

var errBadCredentials = &attendance.Error{Kind: attendance.KindUnauthenticated, Msg: "invalid email or password"}

// TokenConfig controls the tokens handed out on login.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service registers users and exchanges credentials for tokens.
type Service struct {
	store  attendance.Store
	tokens TokenConfig
	log    *zap.Logger
	cost   int
	now    func() time.Time
}

// NewService creates an account service.
func NewService(store attendance.Store, tokens TokenConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, tokens: tokens, log: log, cost: bcrypt.DefaultCost, now: time.Now}
}

// WithBcryptCost lowers hashing cost, for tests.
func (s *Service) WithBcryptCost(cost int) *Service {
	s.cost = cost
	return s
}

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

// Register creates a user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, in RegisterInput) (attendance.User, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	role := attendance.Role(strings.ToLower(in.Role))
	switch {
	case name == "":
		return attendance.User{}, invalid("name is required")
	case !validEmail(email):
		return attendance.User{}, invalid("email is invalid")
	case len(in.Password) < minPasswordLen:
		return attendance.User{}, invalid("password must be at least 8 characters")
	case !role.Valid():
		return attendance.User{}, invalid("role must be lecturer or student")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return attendance.User{}, err
	}
	u := attendance.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	err = s.store.InTx(ctx, func(tx attendance.Tx) error {
		if _, err := tx.UserByEmail(email); err == nil {
			return attendance.Conflict("email already registered")
		} else if attendance.KindOf(err) != attendance.KindNotFound {
			return err
		}
		return tx.InsertUser(&u)
	})
	if err != nil {
		return attendance.User{}, err
	}
	s.log.Info("user registered", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

// Login checks credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (attendance.User, auth.TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u attendance.User
	err := s.store.InTx(ctx, func(tx attendance.Tx) error {
		var err error
		u, err = tx.UserByEmail(email)
		return err
	})
	if attendance.KindOf(err) == attendance.KindNotFound {
		return attendance.User{}, auth.TokenPair{}, errBadCredentials
	}
	if err != nil {
		return attendance.User{}, auth.TokenPair{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return attendance.User{}, auth.TokenPair{}, errBadCredentials
		}
		return attendance.User{}, auth.TokenPair{}, err
	}
	pair, err := s.issue(u)
	if err != nil {
		return attendance.User{}, auth.TokenPair{}, err
	}
	return u, pair, nil
}

// Refresh exchanges a refresh token for a new pair, re-reading the user so a
// deleted account cannot refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	claims, err := auth.Parse(refreshToken, s.tokens.SigningKey, s.tokens.Issuer, auth.RefreshToken)
	if err != nil {
		return auth.TokenPair{}, &attendance.Error{Kind: attendance.KindUnauthenticated, Msg: "invalid refresh token"}
	}
	u, err := s.User(ctx, claims.Subject)
	if attendance.KindOf(err) == attendance.KindNotFound {
		return auth.TokenPair{}, attendance.ErrUnauthenticated
	}
	if err != nil {
		return auth.TokenPair{}, err
	}
	return s.issue(u)
}

// User loads a user by id.
func (s *Service) User(ctx context.Context, id string) (attendance.User, error) {
	var u attendance.User
	err := s.store.InTx(ctx, func(tx attendance.Tx) error {
		var err error
		u, err = tx.UserByID(id)
		return err
	})
	return u, err
}

func (s *Service) issue(u attendance.User) (auth.TokenPair, error) {
	return auth.Issue(u.ID, string(u.Role), s.tokens.Issuer, s.tokens.SigningKey, s.tokens.AccessTTL, s.tokens.RefreshTTL)
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func invalid(msg string) error {
	return &attendance.Error{Kind: attendance.KindInvalidInput, Msg: msg}
}
