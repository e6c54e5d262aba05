package http

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"guide-connect/internal/domain"
	"guide-connect/internal/service"
)

const sessionCookieName = "token"

// AuthHandler mantiene dependencias para los endpoints de identidad.
type AuthHandler struct {
	logger       *zap.Logger
	authServ     *service.AuthService
	oauthServ    *service.OAuthService
	jwtServ      *service.JWTService
	clientURL    string
	cookieSecure bool
}

func NewAuthHandler(logger *zap.Logger, authServ *service.AuthService, oauthServ *service.OAuthService, jwtServ *service.JWTService, clientURL string, cookieSecure bool) *AuthHandler {
	return &AuthHandler{
		logger:       logger,
		authServ:     authServ,
		oauthServ:    oauthServ,
		jwtServ:      jwtServ,
		clientURL:    strings.TrimRight(clientURL, "/"),
		cookieSecure: cookieSecure,
	}
}

// Register maneja POST /api/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Please provide name, email and password"})
		return
	}

	user, err := h.authServ.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeError(c, err, "Registration failed")
		return
	}

	h.sendTokenResponse(c, http.StatusCreated, "User registered successfully", user)
}

// Login maneja POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Please provide email and password"})
		return
	}

	user, err := h.authServ.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(c, err, "Login failed")
		return
	}

	h.sendTokenResponse(c, http.StatusOK, "Login successful", user)
}

// Logout maneja POST /api/auth/logout: la sesión es stateless, solo se limpia
// la cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.SetCookie(sessionCookieName, "", -1, "/", "", h.cookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Logged out successfully"})
}

// Me maneja GET /api/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Not authorized to access this route"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": gin.H{"user": user.Public()}})
}

// UpdateProfile maneja PUT /api/auth/profile.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Not authorized to access this route"})
		return
	}

	var req struct {
		Name              *string              `json:"name"`
		Phone             *string              `json:"phone"`
		Country           *string              `json:"country"`
		Gender            *string              `json:"gender"`
		Avatar            *string              `json:"avatar"`
		Role              *string              `json:"role"`
		ProfileIncomplete *bool                `json:"profileIncomplete"`
		Specialties       []string             `json:"specialties"`
		Languages         []string             `json:"languages"`
		Experience        *string              `json:"experience"`
		ExperienceYears   *int                 `json:"experienceYears"`
		ExperienceDetails *string              `json:"experienceDetails"`
		Certificates      []domain.Certificate `json:"certificates"`
		Location          *string              `json:"location"`
		Bio               *string              `json:"bio"`
		Available         *bool                `json:"available"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid profile update request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body"})
		return
	}

	input := service.UpdateProfileInput{
		Name:              req.Name,
		Phone:             req.Phone,
		Country:           req.Country,
		Gender:            req.Gender,
		AvatarURL:         req.Avatar,
		ProfileIncomplete: req.ProfileIncomplete,
		Specialties:       req.Specialties,
		Languages:         req.Languages,
		Experience:        req.Experience,
		ExperienceYears:   req.ExperienceYears,
		ExperienceDetails: req.ExperienceDetails,
		Certificates:      req.Certificates,
		Location:          req.Location,
		Bio:               req.Bio,
		Available:         req.Available,
	}
	if req.Role != nil {
		role := domain.Role(*req.Role)
		input.Role = &role
	}

	updated, err := h.authServ.UpdateProfile(c.Request.Context(), user.ID, input)
	if err != nil {
		h.writeError(c, err, "Failed to update profile")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Profile updated successfully",
		"data":    gin.H{"user": updated.Public()},
	})
}

// ChangePassword maneja PUT /api/auth/change-password.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Not authorized to access this route"})
		return
	}

	var req struct {
		CurrentPassword string `json:"currentPassword" binding:"required"`
		NewPassword     string `json:"newPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid change password request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Please provide current and new password"})
		return
	}

	updated, err := h.authServ.ChangePassword(c.Request.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		h.writeError(c, err, "Failed to change password")
		return
	}

	h.sendTokenResponse(c, http.StatusOK, "Password changed successfully", updated)
}

// ForgotPassword maneja POST /api/auth/forgot-password. Devuelve el token en
// la respuesta solo como atajo de demo; en producción la entrega es fuera de
// banda via el email sender.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid forgot password request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Please provide an email"})
		return
	}

	token, err := h.authServ.ForgotPassword(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "No user with that email"})
			return
		}
		h.writeError(c, err, "Failed to generate reset token")
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Reset token generated", "resetToken": token})
}

// ResetPassword maneja POST /api/auth/reset-password/:token.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid reset password request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Please provide a new password"})
		return
	}

	user, err := h.authServ.ResetPassword(c.Request.Context(), c.Param("token"), req.Password)
	if err != nil {
		h.writeError(c, err, "Failed to reset password")
		return
	}

	h.sendTokenResponse(c, http.StatusOK, "Password reset successful", user)
}

// GoogleLogin maneja GET /api/auth/google: inicia el handshake con el proveedor.
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	redirectURL, err := h.oauthServ.BeginLogin(c.Request.Context())
	if err != nil {
		h.logger.Error("begin oauth login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Could not start Google sign-in"})
		return
	}
	c.Redirect(http.StatusFound, redirectURL)
}

// GoogleCallback maneja GET /api/auth/google/callback: cierra el handshake y
// redirige al cliente con el token de sesión propio.
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")

	user, err := h.oauthServ.CompleteLogin(c.Request.Context(), state, code)
	if err != nil {
		h.logger.Warn("oauth callback failed", zap.Error(err))
		c.Redirect(http.StatusFound, h.clientURL+"/login?error=oauth_failed")
		return
	}

	token, err := h.jwtServ.Issue(user.ID, user.Role)
	if err != nil {
		h.logger.Error("jwt issue failed", zap.Error(err))
		c.Redirect(http.StatusFound, h.clientURL+"/login?error=oauth_failed")
		return
	}

	h.setSessionCookie(c, token)
	callback := h.clientURL + "/oauth/callback?token=" + url.QueryEscape(token) +
		"&profileIncomplete=" + strconv.FormatBool(user.ProfileIncomplete)
	c.Redirect(http.StatusFound, callback)
}

func (h *AuthHandler) sendTokenResponse(c *gin.Context, status int, message string, user domain.User) {
	token, err := h.jwtServ.Issue(user.ID, user.Role)
	if err != nil {
		h.logger.Error("jwt issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Could not issue session token"})
		return
	}
	h.setSessionCookie(c, token)
	c.JSON(status, gin.H{
		"status":  "success",
		"message": message,
		"token":   token,
		"data":    gin.H{"user": user.Public()},
	})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(sessionCookieName, token, int(h.jwtServ.TTL().Seconds()), "/", "", h.cookieSecure, true)
}

// writeError traduce errores de servicio a la taxonomía HTTP. Lo inesperado
// se loggea con detalle y sale como 500 genérico.
func (h *AuthHandler) writeError(c *gin.Context, err error, fallback string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Validation Error", "errors": verr.Messages()})
	case errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "User already exists with this email"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Invalid credentials"})
	case errors.Is(err, service.ErrAccountInactive):
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "Your account has been deactivated"})
	case errors.Is(err, service.ErrWrongPassword):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Current password is incorrect"})
	case errors.Is(err, service.ErrResetTokenInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Token is invalid or has expired"})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"status": "error", "message": "Too many requests, please try again later"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "User not found"})
	default:
		h.logger.Error(fallback, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Internal server error"})
	}
}
