package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/auth"
	"github.com/hirelocal/hirelocal/internal/common"
	"github.com/hirelocal/hirelocal/internal/models"
)

type createUserReq struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	role := models.Role(req.Role)
	switch role {
	case "", models.RoleCustomer:
		role = models.RoleCustomer
	case models.RoleWorker:
	default:
		common.Fail(c, http.StatusBadRequest, 10002, "role must be customer or worker")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}

	approval := models.ApprovalApproved
	if role == models.RoleWorker {
		// workers go through manual review
		approval = models.ApprovalPending
	}

	user := models.User{
		Phone:        req.Phone,
		Name:         req.Name,
		PasswordHash: hash,
		Role:         role,
		Approval:     approval,
	}
	if err := h.DB.Create(&user).Error; err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "failed to create user (maybe phone already exists)")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	common.OK(c, gin.H{
		"id":    user.ID,
		"phone": user.Phone,
		"role":  user.Role,
		"token": token,
	})
}

type loginReq struct {
	Phone    string `json:"phone" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var user models.User
	if err := h.DB.Where("phone = ?", req.Phone).First(&user).Error; err != nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid phone or password")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid phone or password")
		return
	}

	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{"token": token})
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var user models.User
	if err := h.DB.First(&user, uid).Error; err != nil {
		common.Fail(c, http.StatusNotFound, 40401, "user not found")
		return
	}
	common.OK(c, user)
}

type addSkillReq struct {
	CategoryID uint64 `json:"category_id" binding:"required"`
	Expert     bool   `json:"expert"`
}

// AddWorkerSkill registers the calling worker for a category node.
func (h *Handler) AddWorkerSkill(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req addSkillReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var user models.User
	if err := h.DB.First(&user, uid).Error; err != nil {
		common.Fail(c, http.StatusNotFound, 40401, "user not found")
		return
	}
	if user.Role != models.RoleWorker {
		common.Fail(c, http.StatusForbidden, 40301, "only workers have skills")
		return
	}

	skill := models.WorkerSkill{WorkerID: uid, CategoryID: req.CategoryID, Expert: req.Expert}
	if err := h.DB.Create(&skill).Error; err != nil {
		common.Fail(c, http.StatusConflict, 40901, "skill already registered")
		return
	}
	common.OK(c, skill)
}

func (h *Handler) GetUserByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid user id")
		return
	}

	var user models.User
	if err := h.DB.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, gin.H{
		"id":         user.ID,
		"phone":      user.Phone,
		"name":       user.Name,
		"role":       user.Role,
		"created_at": user.CreatedAt,
	})
}

type createCategoryReq struct {
	Name          string  `json:"name" binding:"required"`
	ParentID      *uint64 `json:"parent_id"`
	BaselinePrice *int64  `json:"baseline_price"`
	MinPercent    *int    `json:"min_percent"`
}

func (h *Handler) CreateCategory(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if !h.isAdmin(c, uid) {
		common.Fail(c, http.StatusForbidden, 40302, "admin only")
		return
	}

	var req createCategoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	cat := models.Category{
		Name:          req.Name,
		ParentID:      req.ParentID,
		BaselinePrice: req.BaselinePrice,
		MinPercent:    req.MinPercent,
	}
	if err := h.DB.Create(&cat).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, cat)
}

func (h *Handler) ListCategories(c *gin.Context) {
	var cats []models.Category
	if err := h.DB.Order("id ASC").Find(&cats).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"categories": cats})
}
