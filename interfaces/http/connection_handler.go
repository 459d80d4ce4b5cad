package http

import (
	"net/http"
	"net/url"
	"strconv"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/logger"
	"social-publisher/usecase"

	"github.com/gin-gonic/gin"
)

type IConnectionHandler interface {
	Authorize(ctx *gin.Context)
	Callback(ctx *gin.Context)
	List(ctx *gin.Context)
	Stats(ctx *gin.Context)
	ValidateState(ctx *gin.Context)
	Refresh(ctx *gin.Context)
	Disconnect(ctx *gin.Context)
}

type ConnectionHandler struct {
	connectionUsecase usecase.IConnectionUsecase
	// successRedirect, when set, receives the browser after a completed callback.
	successRedirect string
}

func NewConnectionHandler(uc usecase.IConnectionUsecase, successRedirect string) IConnectionHandler {
	return &ConnectionHandler{connectionUsecase: uc, successRedirect: successRedirect}
}

type authorizeRequest struct {
	CallbackURL string   `json:"callback_url"`
	Scopes      []string `json:"scopes"`
}

// Authorize handles POST /api/connections/authorize/:platform
func (h *ConnectionHandler) Authorize(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	var req authorizeRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	res, err := h.connectionUsecase.GenerateAuthURL(ctx.Request.Context(), userID, ctx.Param("platform"), req.CallbackURL, req.Scopes)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

// Callback handles GET /auth/:platform/callback. The state token is the only
// credential: the user is recovered from the stored connection state.
func (h *ConnectionHandler) Callback(ctx *gin.Context) {
	platformID := ctx.Param("platform")
	if errParam := ctx.Query("error"); errParam != "" {
		logger.GetLogger().WithField("platform", platformID).WithField("oauth_error", errParam).Warn("Authorization denied upstream")
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error":       "authorization denied: " + errParam,
			"description": ctx.Query("error_description"),
		})
		return
	}
	account, identity, err := h.connectionUsecase.HandleCallback(ctx.Request.Context(), platformID, ctx.Query("code"), ctx.Query("state"))
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	if h.successRedirect != "" {
		q := url.Values{}
		q.Set("platform", platformID)
		q.Set("account_id", strconv.FormatInt(account.ID, 10))
		ctx.Redirect(http.StatusFound, h.successRedirect+"?"+q.Encode())
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": account, "identity": identity})
}

// List handles GET /api/connections[?platform=]
func (h *ConnectionHandler) List(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	accounts, err := h.connectionUsecase.ListConnections(ctx.Request.Context(), userID, ctx.Query("platform"))
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	if accounts == nil {
		accounts = []*model.SocialAccount{}
	}
	ctx.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (h *ConnectionHandler) Stats(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	stats, err := h.connectionUsecase.Stats(ctx.Request.Context(), userID)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"platforms": stats})
}

// ValidateState handles GET /api/connections/state/:state without consuming the state.
func (h *ConnectionHandler) ValidateState(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	cs, err := h.connectionUsecase.ValidateState(ctx.Request.Context(), ctx.Param("state"))
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	if cs == nil || cs.UserID != userID {
		ctx.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"valid": true, "platform": cs.PlatformID, "created_at": cs.CreatedAt})
}

func (h *ConnectionHandler) Refresh(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	accountID, ok := int64Param(ctx, "accountId")
	if !ok {
		return
	}
	res, err := h.connectionUsecase.RefreshAccessToken(ctx.Request.Context(), accountID, userID)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"refreshed": true, "expires_in": res.ExpiresIn})
}

func (h *ConnectionHandler) Disconnect(ctx *gin.Context) {
	userID, ok := currentUser(ctx)
	if !ok {
		return
	}
	accountID, ok := int64Param(ctx, "accountId")
	if !ok {
		return
	}
	if err := h.connectionUsecase.DisconnectAccount(ctx.Request.Context(), accountID, userID); err != nil {
		abortWithError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func int64Param(ctx *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || v <= 0 {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}
