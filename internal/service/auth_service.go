package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"guide-connect/internal/domain"
	"guide-connect/internal/email"
	"guide-connect/internal/repository"
)

// AuthService coordina registro, login y gestión de credenciales.
type AuthService struct {
	logger       *zap.Logger
	users        repository.UserRepository
	emailSender  email.Sender
	resetLimiter ResetRateLimiter
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account deactivated")
	ErrWrongPassword      = errors.New("current password incorrect")
	ErrResetTokenInvalid  = errors.New("reset token invalid or expired")
	ErrRateLimited        = errors.New("rate limited")
)

const (
	passwordCost  = 12
	resetTokenTTL = 10 * time.Minute
)

func NewAuthService(logger *zap.Logger, users repository.UserRepository, emailSender email.Sender, resetLimiter ResetRateLimiter) *AuthService {
	if resetLimiter == nil {
		resetLimiter = NewResetRateLimiter(resetTokenTTL, 3)
	}
	return &AuthService{
		logger:       logger,
		users:        users,
		emailSender:  emailSender,
		resetLimiter: resetLimiter,
	}
}

// Register crea una cuenta local con perfil incompleto y rol tourist.
func (s *AuthService) Register(ctx context.Context, name, emailAddr, password string) (domain.User, error) {
	name = strings.TrimSpace(name)
	emailAddr = normalizeEmail(emailAddr)
	password = strings.TrimSpace(password)

	verr := domain.NewValidationError()
	if name == "" {
		verr.Add("name", "Name is required")
	}
	if emailAddr == "" {
		verr.Add("email", "Email is required")
	}
	if len(password) < 6 {
		verr.Add("password", "Password must be at least 6 characters")
	}
	if !verr.Empty() {
		return domain.User{}, verr
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return domain.User{}, err
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:                uuid.NewString(),
		Email:             emailAddr,
		Name:              name,
		PasswordHash:      string(hashBytes),
		AvatarURL:         domain.FallbackAvatarURL(name),
		Role:              domain.RoleTourist,
		ProfileIncomplete: true,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, err
	}
	return user, nil
}

// Authenticate valida credenciales locales. No distingue email desconocido de
// password incorrecto; una cuenta desactivada se rechaza aunque el password
// sea válido.
func (s *AuthService) Authenticate(ctx context.Context, emailAddr, password string) (domain.User, error) {
	emailAddr = normalizeEmail(emailAddr)
	password = strings.TrimSpace(password)
	if emailAddr == "" || password == "" {
		return domain.User{}, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if user.PasswordHash == "" {
		return domain.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return domain.User{}, ErrAccountInactive
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("update last login failed", zap.Error(err), zap.String("user_id", user.ID))
	} else {
		user.LastLogin = &now
	}
	return user, nil
}

func (s *AuthService) GetByID(ctx context.Context, id string) (domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

// ChangePassword reemplaza el password local tras verificar el actual.
func (s *AuthService) ChangePassword(ctx context.Context, id, currentPassword, newPassword string) (domain.User, error) {
	newPassword = strings.TrimSpace(newPassword)
	if len(newPassword) < 6 {
		verr := domain.NewValidationError()
		verr.Add("newPassword", "Password must be at least 6 characters")
		return domain.User{}, verr
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if user.PasswordHash == "" {
		return domain.User{}, ErrWrongPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return domain.User{}, ErrWrongPassword
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(newPassword), passwordCost)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hashBytes)); err != nil {
		return domain.User{}, err
	}
	user.PasswordHash = string(hashBytes)
	return user, nil
}

// ForgotPassword genera un token de reset de un solo uso y devuelve el texto
// plano para entrega fuera de banda. Un email desconocido responde NotFound.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) (string, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return "", ErrUserNotFound
	}
	if s.resetLimiter != nil && !s.resetLimiter.Allow(emailAddr) {
		return "", ErrRateLimited
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", ErrUserNotFound
		}
		return "", err
	}

	token, tokenHash, err := generateResetToken()
	if err != nil {
		return "", err
	}
	expiresAt := time.Now().UTC().Add(resetTokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, tokenHash, expiresAt); err != nil {
		return "", err
	}

	if s.emailSender != nil {
		if err := s.emailSender.SendPasswordReset(ctx, user.Email, token, expiresAt); err != nil {
			s.logger.Warn("send password reset email failed", zap.Error(err), zap.String("email", user.Email))
		}
	}
	return token, nil
}

// ResetPassword consume el token presentado: una sola operación atómica busca
// el hash con expiración vigente, fija el nuevo password y limpia ambos campos
// de reset, de modo que un replay del mismo token falla.
func (s *AuthService) ResetPassword(ctx context.Context, plaintextToken, newPassword string) (domain.User, error) {
	newPassword = strings.TrimSpace(newPassword)
	if len(newPassword) < 6 {
		verr := domain.NewValidationError()
		verr.Add("password", "Password must be at least 6 characters")
		return domain.User{}, verr
	}
	plaintextToken = strings.TrimSpace(plaintextToken)
	if plaintextToken == "" {
		return domain.User{}, ErrResetTokenInvalid
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(newPassword), passwordCost)
	if err != nil {
		return domain.User{}, err
	}

	user, err := s.users.ConsumeResetToken(ctx, hashResetToken(plaintextToken), time.Now().UTC(), string(hashBytes))
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, ErrResetTokenInvalid
		}
		return domain.User{}, err
	}
	return user, nil
}

// ListGuides devuelve todas las cuentas con rol guide para revisión admin.
func (s *AuthService) ListGuides(ctx context.Context) ([]domain.User, error) {
	return s.users.ListGuides(ctx)
}

// VerifyGuide marca a un guía como verificado.
func (s *AuthService) VerifyGuide(ctx context.Context, id string) (domain.User, error) {
	user, err := s.users.SetVerificationStatus(ctx, id, domain.VerificationVerified)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}

func generateResetToken() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	token := hex.EncodeToString(buf)
	return token, hashResetToken(token), nil
}

// hashResetToken es sha256 sin sal: el hash almacenado debe ser localizable
// por igualdad exacta al consumir el token.
func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
