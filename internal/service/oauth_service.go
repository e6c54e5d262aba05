package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guide-connect/internal/domain"
	"guide-connect/internal/repository"
)

// ProviderProfile es el perfil verificado que entrega el proveedor externo.
type ProviderProfile struct {
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
}

// ProviderAdapter abstrae al proveedor OAuth: el servicio depende solo de este
// contrato, no de la forma de la librería del proveedor. El token del
// proveedor se descarta tras obtener el perfil.
type ProviderAdapter interface {
	AuthURL(state string) string
	ResolveProfile(ctx context.Context, code string) (ProviderProfile, error)
}

var (
	ErrInvalidState        = errors.New("oauth state invalid or expired")
	ErrInvalidCode         = errors.New("oauth authorization code invalid")
	ErrOAuthProfileInvalid = errors.New("oauth profile incomplete")
)

const oauthStateTTL = 10 * time.Minute

// OAuthService reconcilia una identidad externa con la colección de usuarios.
type OAuthService struct {
	logger  *zap.Logger
	users   repository.UserRepository
	adapter ProviderAdapter
	states  StateStore
}

func NewOAuthService(logger *zap.Logger, users repository.UserRepository, adapter ProviderAdapter, states StateStore) *OAuthService {
	if states == nil {
		states = NewMemoryStateStore()
	}
	return &OAuthService{
		logger:  logger,
		users:   users,
		adapter: adapter,
		states:  states,
	}
}

// BeginLogin genera el state del handshake y devuelve la URL del proveedor.
func (s *OAuthService) BeginLogin(ctx context.Context) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	state := hex.EncodeToString(buf)
	if err := s.states.Store(ctx, state, oauthStateTTL); err != nil {
		return "", err
	}
	return s.adapter.AuthURL(state), nil
}

// CompleteLogin consume el state, canjea el código por un perfil y lo enlaza o
// crea en la colección de usuarios. La creación en primer contacto es un
// upsert atómico por email: dos callbacks concurrentes para un email inédito
// producen exactamente una cuenta.
func (s *OAuthService) CompleteLogin(ctx context.Context, state, code string) (domain.User, error) {
	ok, err := s.states.Consume(ctx, state)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, ErrInvalidState
	}

	profile, err := s.adapter.ResolveProfile(ctx, code)
	if err != nil {
		return domain.User{}, err
	}
	if profile.ProviderUserID == "" || profile.Email == "" {
		return domain.User{}, ErrOAuthProfileInvalid
	}

	avatar := profile.AvatarURL
	if avatar == "" {
		avatar = domain.FallbackAvatarURL(profile.Name)
	}

	now := time.Now().UTC()
	draft := domain.User{
		ID:                uuid.NewString(),
		Email:             normalizeEmail(profile.Email),
		Name:              profile.Name,
		GoogleID:          profile.ProviderUserID,
		AvatarURL:         avatar,
		Role:              domain.RoleTourist,
		ProfileIncomplete: true,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	user, err := s.users.UpsertByEmail(ctx, draft)
	if err != nil {
		return domain.User{}, err
	}

	// Cuenta local preexistente sin enlace: fijar googleId sin tocar
	// passwordHash. Si ya estaba enlazada se deja como está.
	if user.GoogleID == "" {
		if err := s.users.LinkGoogleID(ctx, user.ID, profile.ProviderUserID); err != nil {
			return domain.User{}, err
		}
		user.GoogleID = profile.ProviderUserID
	}
	return user, nil
}
