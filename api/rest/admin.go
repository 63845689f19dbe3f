package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questkeeper/config"
	"github.com/kasuganosora/questkeeper/game/quest"
	mw "github.com/kasuganosora/questkeeper/middleware"
	"github.com/kasuganosora/questkeeper/model"
	"github.com/kasuganosora/questkeeper/scheduler"
	"go.uber.org/zap"
)

// HistoryReader returns a player's recent audit rows.
type HistoryReader interface {
	History(ctx context.Context, playerID string, limit int) ([]model.AuditLog, error)
}

// AdminHandler handles admin-only REST endpoints and game-server event
// ingestion. Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	admin   *quest.Admin
	router  *quest.Router
	sched   *scheduler.Scheduler
	history HistoryReader
	sec     config.SecurityConfig
	logger  *zap.Logger
}

// NewAdminHandler creates an AdminHandler. history may be nil.
func NewAdminHandler(
	admin *quest.Admin,
	router *quest.Router,
	sched *scheduler.Scheduler,
	history HistoryReader,
	sec config.SecurityConfig,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{admin: admin, router: router, sched: sched, history: history, sec: sec, logger: logger}
}

// Register mounts every admin route on g.
func (h *AdminHandler) Register(g *gin.RouterGroup) {
	g.POST("/events", h.Event)
	g.POST("/quests/:name", h.CreateQuest)
	g.GET("/quests/:name", h.DescribeQuest)
	g.DELETE("/quests/:name", h.DeleteQuest)
	g.PUT("/quests/:name/display_name", h.SetDisplayName)
	g.PUT("/quests/:name/description", h.SetDescription)
	g.PUT("/quests/:name/duration", h.SetDuration)
	g.PUT("/quests/:name/permission", h.SetPermission)
	g.POST("/quests/:name/requirements", h.AddRequirement)
	g.DELETE("/quests/:name/requirements/:id", h.RemoveRequirement)
	g.POST("/quests/:name/rewards/:id", h.AddReward)
	g.DELETE("/quests/:name/rewards/:id", h.RemoveReward)
	g.GET("/requirements/:id", h.RequirementInfo)
	g.POST("/rewards", h.CreateReward)
	g.GET("/players/:id/quest", h.PlayerQuest)
	g.GET("/players/:id/history", h.PlayerHistory)
	g.POST("/tokens", h.IssueToken)
	g.GET("/scheduler", h.ListSchedulerTasks)
}

// Event ingests a gameplay event from the game server.
// POST /api/admin/events
func (h *AdminHandler) Event(c *gin.Context) {
	var ev quest.GameEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ev.Kind != quest.GameEventItemPickup && ev.Kind != quest.GameEventEntityDeath {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event kind"})
		return
	}
	advanced := h.router.Dispatch(c.Request.Context(), ev)
	if advanced == nil {
		advanced = map[int64]quest.Outcome{}
	}
	c.JSON(http.StatusOK, gin.H{"advanced": advanced})
}

// CreateQuest handles POST /api/admin/quests/:name.
func (h *AdminHandler) CreateQuest(c *gin.Context) {
	out := h.admin.Create(c.Request.Context(), c.Param("name"))
	if out.OK() {
		c.JSON(http.StatusCreated, gin.H{"result": out})
		return
	}
	respond(c, out, nil)
}

// DescribeQuest handles GET /api/admin/quests/:name.
func (h *AdminHandler) DescribeQuest(c *gin.Context) {
	q, out := h.admin.Describe(c.Request.Context(), c.Param("name"))
	respond(c, out, gin.H{"quest": q})
}

// DeleteQuest handles DELETE /api/admin/quests/:name.
func (h *AdminHandler) DeleteQuest(c *gin.Context) {
	respond(c, h.admin.Delete(c.Request.Context(), c.Param("name")), nil)
}

type valueRequest struct {
	Value string `json:"value"`
}

// setter binds {"value": ...} and applies fn to the quest named in the path.
func (h *AdminHandler) setter(fn func(ctx context.Context, name, value string) quest.Outcome) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req valueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		respond(c, fn(c.Request.Context(), c.Param("name"), req.Value), nil)
	}
}

// SetDisplayName handles PUT /api/admin/quests/:name/display_name.
func (h *AdminHandler) SetDisplayName(c *gin.Context) { h.setter(h.admin.SetDisplayName)(c) }

// SetDescription handles PUT /api/admin/quests/:name/description.
func (h *AdminHandler) SetDescription(c *gin.Context) { h.setter(h.admin.SetDescription)(c) }

// SetDuration handles PUT /api/admin/quests/:name/duration.
func (h *AdminHandler) SetDuration(c *gin.Context) { h.setter(h.admin.SetDuration)(c) }

// SetPermission handles PUT /api/admin/quests/:name/permission.
func (h *AdminHandler) SetPermission(c *gin.Context) { h.setter(h.admin.SetPermission)(c) }

type addRequirementRequest struct {
	Kind   string `json:"kind"   binding:"required"`
	Amount int    `json:"amount" binding:"required"`
	Target string `json:"target" binding:"required"`
}

// AddRequirement handles POST /api/admin/quests/:name/requirements.
func (h *AdminHandler) AddRequirement(c *gin.Context) {
	var req addRequirementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, out := h.admin.AddRequirement(c.Request.Context(), c.Param("name"), req.Kind, req.Amount, req.Target)
	respond(c, out, gin.H{"requirement": r})
}

// RemoveRequirement handles DELETE /api/admin/quests/:name/requirements/:id.
func (h *AdminHandler) RemoveRequirement(c *gin.Context) {
	id, ok := quest.ParseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	respond(c, h.admin.RemoveRequirement(c.Request.Context(), c.Param("name"), id), nil)
}

// RequirementInfo handles GET /api/admin/requirements/:id.
func (h *AdminHandler) RequirementInfo(c *gin.Context) {
	id, ok := quest.ParseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	r, out := h.admin.RequirementInfo(c.Request.Context(), id)
	respond(c, out, gin.H{"requirement": r})
}

type createRewardRequest struct {
	Kind    string `json:"kind"    binding:"required"`
	Payload string `json:"payload" binding:"required"`
}

// CreateReward handles POST /api/admin/rewards.
func (h *AdminHandler) CreateReward(c *gin.Context) {
	var req createRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, out := h.admin.CreateReward(c.Request.Context(), req.Kind, req.Payload)
	if out.OK() {
		c.JSON(http.StatusCreated, gin.H{"result": out, "reward": r})
		return
	}
	respond(c, out, nil)
}

func (h *AdminHandler) rewardLink(c *gin.Context, fn func(ctx context.Context, name string, id int64) quest.Outcome) {
	id, ok := quest.ParseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	respond(c, fn(c.Request.Context(), c.Param("name"), id), nil)
}

// AddReward handles POST /api/admin/quests/:name/rewards/:id.
func (h *AdminHandler) AddReward(c *gin.Context) { h.rewardLink(c, h.admin.AddReward) }

// RemoveReward handles DELETE /api/admin/quests/:name/rewards/:id.
func (h *AdminHandler) RemoveReward(c *gin.Context) { h.rewardLink(c, h.admin.RemoveReward) }

// PlayerQuest returns a player's active quest.
// GET /api/admin/players/:id/quest
func (h *AdminHandler) PlayerQuest(c *gin.Context) {
	info, out := h.admin.Info(c.Request.Context(), c.Param("id"))
	if !out.OK() {
		respond(c, out, nil)
		return
	}
	respond(c, out, gin.H{"quest": info.Quest, "progress": info.Progress, "expiration": info.Expiration})
}

// PlayerHistory returns a player's recent lifecycle audit rows.
// GET /api/admin/players/:id/history
func (h *AdminHandler) PlayerHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "audit disabled"})
		return
	}
	rows, err := h.history.History(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		h.logger.Error("read audit history", zap.String("player_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": rows})
}

type issueTokenRequest struct {
	PlayerID    string   `json:"player_id" binding:"required"`
	Permissions []string `json:"permissions"`
}

// IssueToken signs a player JWT for the game server to hand to its client.
// POST /api/admin/tokens
func (h *AdminHandler) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, err := mw.GenerateToken(req.PlayerID, req.Permissions, h.sec.JWTSecret, h.sec.JWTTTL)
	if err != nil {
		h.logger.Error("issue token", zap.String("player_id", req.PlayerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok, "expires_in": int64(h.sec.JWTTTL.Seconds())})
}

// ListSchedulerTasks returns every registered ticker task with run stats.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
