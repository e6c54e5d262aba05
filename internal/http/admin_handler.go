package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"guide-connect/internal/domain"
	"guide-connect/internal/service"
)

// AdminHandler expone la revisión de guías para cuentas admin.
type AdminHandler struct {
	logger   *zap.Logger
	authServ *service.AuthService
}

func NewAdminHandler(logger *zap.Logger, authServ *service.AuthService) *AdminHandler {
	return &AdminHandler{logger: logger, authServ: authServ}
}

// ListGuides maneja GET /api/admin/guides.
func (h *AdminHandler) ListGuides(c *gin.Context) {
	guides, err := h.authServ.ListGuides(c.Request.Context())
	if err != nil {
		h.logger.Error("list guides failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to fetch guides for verification"})
		return
	}

	profiles := make([]domain.PublicProfile, 0, len(guides))
	for _, g := range guides {
		profiles = append(profiles, g.Public())
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"results": len(profiles),
		"data":    gin.H{"guides": profiles},
	})
}

// VerifyGuide maneja PUT /api/admin/guides/:id/verify.
func (h *AdminHandler) VerifyGuide(c *gin.Context) {
	guide, err := h.authServ.VerifyGuide(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == service.ErrUserNotFound {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Guide not found"})
			return
		}
		h.logger.Error("verify guide failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Failed to verify guide"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Guide verified successfully",
		"data":    gin.H{"guide": guide.Public()},
	})
}
