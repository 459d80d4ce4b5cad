package http

import (
	"net/http"
	"time"

	"social-publisher/usecase"

	"github.com/gin-gonic/gin"
)

type IPostHandler interface {
	Create(ctx *gin.Context)
	Get(ctx *gin.Context)
	LinkAccounts(ctx *gin.Context)
	UnlinkAccount(ctx *gin.Context)
	Schedule(ctx *gin.Context)
	PublishNow(ctx *gin.Context)
	Retry(ctx *gin.Context)
}

type PostHandler struct {
	distributionUsecase usecase.IDistributionUsecase
}

func NewPostHandler(uc usecase.IDistributionUsecase) IPostHandler {
	return &PostHandler{distributionUsecase: uc}
}

type linkRequest struct {
	AccountIDs []int64 `json:"account_ids" binding:"required"`
}

type scheduleRequest struct {
	ScheduledFor time.Time `json:"scheduled_for" binding:"required"`
	AccountIDs   []int64   `json:"account_ids"`
}

type publishRequest struct {
	AccountID *int64 `json:"account_id"`
}

type retryRequest struct {
	ScheduledFor *time.Time `json:"scheduled_for"`
}

func (h *PostHandler) Create(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req usecase.CreatePostInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	post, err := h.distributionUsecase.CreatePost(ctx.Request.Context(), userID, req)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, post)
}

func (h *PostHandler) Get(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	postID, ok := int64Param(ctx, "postId")
	if !ok {
		return
	}
	view, err := h.distributionUsecase.GetPostWithLedger(ctx.Request.Context(), postID, userID)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, view)
}

// LinkAccounts handles PUT /api/posts/:postId/accounts. The body replaces the whole set.
func (h *PostHandler) LinkAccounts(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	postID, ok := int64Param(ctx, "postId")
	if !ok {
		return
	}
	var req linkRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	entries, err := h.distributionUsecase.LinkToAccounts(ctx.Request.Context(), postID, userID, req.AccountIDs)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"post_id": postID, "accounts": entries})
}

func (h *PostHandler) UnlinkAccount(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	postID, ok := int64Param(ctx, "postId")
	if !ok {
		return
	}
	accountID, ok := int64Param(ctx, "accountId")
	if !ok {
		return
	}
	if err := h.distributionUsecase.Unlink(ctx.Request.Context(), postID, accountID, userID); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *PostHandler) Schedule(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	postID, ok := int64Param(ctx, "postId")
	if !ok {
		return
	}
	var req scheduleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.ScheduledFor.IsZero() {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	entries, err := h.distributionUsecase.Schedule(ctx.Request.Context(), postID, userID, req.ScheduledFor, req.AccountIDs)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"post_id": postID, "scheduled": entries})
}

// PublishNow handles POST /api/posts/:postId/publish. A partial failure still
// answers 200; the body carries both lists.
func (h *PostHandler) PublishNow(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	postID, ok := int64Param(ctx, "postId")
	if !ok {
		return
	}
	var req publishRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	res, err := h.distributionUsecase.PublishNow(ctx.Request.Context(), postID, userID, req.AccountID)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *PostHandler) Retry(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	postID, ok := int64Param(ctx, "postId")
	if !ok {
		return
	}
	accountID, ok := int64Param(ctx, "accountId")
	if !ok {
		return
	}
	var req retryRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	entry, err := h.distributionUsecase.RetryPostAccount(ctx.Request.Context(), postID, accountID, userID, req.ScheduledFor)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, entry)
}
