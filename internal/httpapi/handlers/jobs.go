package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hirelocal/hirelocal/internal/common"
	"github.com/hirelocal/hirelocal/internal/job"
	"github.com/hirelocal/hirelocal/internal/settings"
)

type createJobReq struct {
	ChatID     uint64 `json:"chat_id" binding:"required"`
	Location   string `json:"location"`
	PriceFloor int64  `json:"price_floor"`
	Consent    bool   `json:"consent"`
}

func (h *Handler) CreateJob(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req createJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	j, err := h.JobSvc.CreateFromChat(c.Request.Context(), uid, job.CreateInput{
		ChatID:     req.ChatID,
		Location:   req.Location,
		PriceFloor: req.PriceFloor,
		Consent:    req.Consent,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, j)
}

func (h *Handler) GetJob(c *gin.Context) {
	if _, ok := userIDFromContext(c); !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	j, err := h.JobSvc.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, j)
}

type cancelJobReq struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelJob(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req cancelJobReq
	_ = c.ShouldBindJSON(&req)

	if err := h.JobSvc.Cancel(c.Request.Context(), uid, c.Param("job_id"), req.Reason); err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"cancelled": true})
}

type voteReq struct {
	SubcategoryID uint64 `json:"subcategory_id" binding:"required"`
}

func (h *Handler) SubmitVote(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req voteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.JobSvc.SubmitCategorization(c.Request.Context(), uid, c.Param("job_id"), req.SubcategoryID)
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, res)
}

type submitBidReq struct {
	Amount        int64 `json:"amount" binding:"required"`
	EquipmentCost int64 `json:"equipment_cost"`
}

func (h *Handler) SubmitBid(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req submitBidReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	b, err := h.JobSvc.SubmitBid(c.Request.Context(), uid, job.BidInput{
		JobID:         c.Param("job_id"),
		Amount:        req.Amount,
		EquipmentCost: req.EquipmentCost,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, b)
}

func (h *Handler) ListJobBids(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	bids, err := h.JobSvc.ListJobBids(c.Request.Context(), uid, c.Param("job_id"))
	if err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"bids": bids})
}

func (h *Handler) AcceptBid(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.JobSvc.AcceptBid(c.Request.Context(), uid, c.Param("bid_id")); err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"accepted": true})
}

func (h *Handler) RejectBid(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.JobSvc.RejectBid(c.Request.Context(), uid, c.Param("bid_id")); err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"rejected": true})
}

type codeReq struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) ValidateOnboardingCode(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req codeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.JobSvc.ValidateOnboardingCode(c.Request.Context(), uid, c.Param("job_id"), req.Code); err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"validated": true})
}

func (h *Handler) ValidateCompletionCode(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req codeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.JobSvc.ValidateCompletionCode(c.Request.Context(), uid, c.Param("job_id"), req.Code); err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"validated": true})
}

type ratingReq struct {
	Stars   int    `json:"stars" binding:"required"`
	Comment string `json:"comment"`
}

func (h *Handler) SubmitRating(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req ratingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.JobSvc.SubmitRating(c.Request.Context(), uid, c.Param("job_id"), req.Stars, req.Comment); err != nil {
		failErr(c, err)
		return
	}
	common.OK(c, gin.H{"rated": true})
}

type putSettingReq struct {
	Value int `json:"value" binding:"required"`
}

// PutGroupSize updates the categorizer group size used for jobs created
// after the change. Already-frozen groups keep their size.
func (h *Handler) PutGroupSize(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if !h.isAdmin(c, uid) {
		common.Fail(c, http.StatusForbidden, 40302, "admin only")
		return
	}

	var req putSettingReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Value <= 0 {
		common.Fail(c, http.StatusBadRequest, 10001, "value must be a positive integer")
		return
	}
	if err := h.SettingsSvc.SetInt(c.Request.Context(), settings.KeyCategorizerGroupSize, req.Value); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "failed to store setting")
		return
	}
	common.OK(c, gin.H{"key": settings.KeyCategorizerGroupSize, "value": req.Value})
}
