package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questkeeper/game/quest"
	mw "github.com/kasuganosora/questkeeper/middleware"
)

// QuestHandler handles the player quest endpoints. Routes must sit behind
// middleware.Auth.
type QuestHandler struct {
	life  *quest.Lifecycle
	admin *quest.Admin
}

// NewQuestHandler creates a new QuestHandler.
func NewQuestHandler(life *quest.Lifecycle, admin *quest.Admin) *QuestHandler {
	return &QuestHandler{life: life, admin: admin}
}

func currentPlayer(c *gin.Context) *mw.Player {
	p := mw.GetPlayer(c)
	if p == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return p
}

// Accept handles POST /api/quests/:name/accept.
func (h *QuestHandler) Accept(c *gin.Context) {
	p := currentPlayer(c)
	if p == nil {
		return
	}
	respond(c, h.life.Accept(c.Request.Context(), p, c.Param("name")), nil)
}

// Cancel handles POST /api/quests/:name/cancel.
func (h *QuestHandler) Cancel(c *gin.Context) {
	p := currentPlayer(c)
	if p == nil {
		return
	}
	respond(c, h.life.Cancel(c.Request.Context(), p.ID(), c.Param("name")), nil)
}

// Get handles GET /api/quests/:name. The caller's progress is included
// when the quest is their active one.
func (h *QuestHandler) Get(c *gin.Context) {
	p := currentPlayer(c)
	if p == nil {
		return
	}
	ctx := c.Request.Context()
	name := c.Param("name")
	if info, out := h.admin.Info(ctx, p.ID()); out.OK() && info.Quest.Name == name {
		respond(c, out, gin.H{"quest": info.Quest, "progress": info.Progress, "expiration": info.Expiration})
		return
	}
	q, out := h.admin.Describe(ctx, name)
	respond(c, out, gin.H{"quest": q})
}

// Active handles GET /api/me/quest.
func (h *QuestHandler) Active(c *gin.Context) {
	p := currentPlayer(c)
	if p == nil {
		return
	}
	info, out := h.admin.Info(c.Request.Context(), p.ID())
	if !out.OK() {
		respond(c, out, nil)
		return
	}
	respond(c, out, gin.H{"quest": info.Quest, "progress": info.Progress, "expiration": info.Expiration})
}
