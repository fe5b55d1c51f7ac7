package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hirelocal/hirelocal/internal/chat"
	"github.com/hirelocal/hirelocal/internal/common"
	"github.com/hirelocal/hirelocal/internal/config"
	"github.com/hirelocal/hirelocal/internal/httpapi/handlers"
	"github.com/hirelocal/hirelocal/internal/httpapi/middleware"
	"github.com/hirelocal/hirelocal/internal/job"
	"github.com/hirelocal/hirelocal/internal/settings"
)

func NewRouter(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, jobSvc *job.Service, settingsSvc *settings.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, chatSvc, jobSvc, settingsSvc)

	r.GET("/ping", h.Ping)

	// CRUD users register
	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUserByID)

	// auth
	r.POST("/login", h.Login)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.POST("/me/skills", h.AddWorkerSkill)

	// categories
	r.GET("/categories", h.ListCategories)
	authGroup.POST("/categories", h.CreateCategory)

	// Chat (JWT required)
	authGroup.POST("/chats/service", h.EnsureServiceChat)
	authGroup.POST("/chats/notification", h.EnsureNotificationChat)
	authGroup.POST("/chats/:chat_id/messages", h.SendMessage)
	authGroup.GET("/chats/:chat_id/messages", h.ListMessages)

	// Jobs
	authGroup.POST("/jobs", h.CreateJob)
	authGroup.GET("/jobs/:job_id", h.GetJob)
	authGroup.POST("/jobs/:job_id/cancel", h.CancelJob)
	authGroup.POST("/jobs/:job_id/votes", h.SubmitVote)
	authGroup.POST("/jobs/:job_id/bids", h.SubmitBid)
	authGroup.GET("/jobs/:job_id/bids", h.ListJobBids)
	authGroup.POST("/jobs/:job_id/onboarding/validate", h.ValidateOnboardingCode)
	authGroup.POST("/jobs/:job_id/completion/validate", h.ValidateCompletionCode)
	authGroup.POST("/jobs/:job_id/ratings", h.SubmitRating)

	// Bids
	authGroup.POST("/bids/:bid_id/accept", h.AcceptBid)
	authGroup.POST("/bids/:bid_id/reject", h.RejectBid)

	// Admin settings
	authGroup.PUT("/settings/categorizer-group-size", h.PutGroupSize)

	return r
}
