package handlers

import (
	"net/http"
	"strconv"

	"EchoCast/internal/models"
	"EchoCast/pkg/errors"
	"EchoCast/pkg/middleware"
	"EchoCast/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ListPodcasts 列出当前用户生成的所有脚本
func (h *Handlers) ListPodcasts(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	podcasts, err := models.GetPodcastsByUser(h.db, userID)
	if err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError,
			errors.CodeScriptPersist, "failed to list podcasts", err.Error(), nil)
		return
	}
	response.Success(c, "ok", gin.H{"podcasts": podcasts, "total": len(podcasts)})
}

// GetPodcast 获取单个脚本，只允许属主访问
func (h *Handlers) GetPodcast(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.FailWithStatus(c, http.StatusBadRequest,
			errors.CodeInvalidRequest, "invalid podcast id", err.Error(), nil)
		return
	}
	podcast, err := models.GetPodcast(h.db, uint(id))
	if err == gorm.ErrRecordNotFound {
		response.FailWithStatus(c, http.StatusNotFound,
			errors.CodeInvalidRequest, "podcast not found", "", nil)
		return
	}
	if err != nil {
		response.FailWithStatus(c, http.StatusInternalServerError,
			errors.CodeScriptPersist, "failed to load podcast", err.Error(), nil)
		return
	}
	if podcast.UserID != middleware.CurrentUserID(c) {
		response.FailWithStatus(c, http.StatusNotFound,
			errors.CodeInvalidRequest, "podcast not found", "", nil)
		return
	}
	response.Success(c, "ok", podcast)
}
