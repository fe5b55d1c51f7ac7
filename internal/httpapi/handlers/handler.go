package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/apperr"
	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/common"
	"github.com/hirelocal/hirelocal/internal/config"
	"github.com/hirelocal/hirelocal/internal/httpapi/middleware"
	"github.com/hirelocal/hirelocal/internal/job"
	"github.com/hirelocal/hirelocal/internal/models"
	"github.com/hirelocal/hirelocal/internal/settings"
)

type Handler struct {
	DB          *gorm.DB
	Cfg         config.Config
	ChatSvc     *chat.Service
	JobSvc      *job.Service
	SettingsSvc *settings.Service
}

func NewHandler(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, jobSvc *job.Service, settingsSvc *settings.Service) *Handler {
	return &Handler{DB: db, Cfg: cfg, ChatSvc: chatSvc, JobSvc: jobSvc, SettingsSvc: settingsSvc}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func (h *Handler) isAdmin(c *gin.Context, uid uint64) bool {
	var user models.User
	if err := h.DB.First(&user, uid).Error; err != nil {
		return false
	}
	return user.Role == models.RoleAdmin
}

// failErr maps the error taxonomy onto the response envelope.
// Precondition failures surface their message verbatim.
func failErr(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		common.Fail(c, http.StatusNotFound, 40400, err.Error())
	case apperr.KindValidation:
		common.Fail(c, http.StatusBadRequest, 40000, err.Error())
	case apperr.KindAuthorization:
		common.Fail(c, http.StatusForbidden, 40300, err.Error())
	case apperr.KindInvalidTransition:
		common.Fail(c, http.StatusConflict, 40900, err.Error())
	case apperr.KindAlreadyExists:
		common.Fail(c, http.StatusConflict, 40901, err.Error())
	default:
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40400, "not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
