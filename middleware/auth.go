package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questkeeper/config"
)

const PlayerKey = "player"

// Player is the authenticated caller. It satisfies quest.Player.
type Player struct {
	id    string
	perms map[string]struct{}
}

// NewPlayer builds a Player from an id and its granted permissions.
func NewPlayer(id string, permissions []string) *Player {
	p := &Player{id: id, perms: make(map[string]struct{}, len(permissions))}
	for _, perm := range permissions {
		p.perms[perm] = struct{}{}
	}
	return p
}

func (p *Player) ID() string { return p.id }

// HasPermission reports whether the token granted perm, or "*".
func (p *Player) HasPermission(perm string) bool {
	if _, ok := p.perms["*"]; ok {
		return true
	}
	_, ok := p.perms[perm]
	return ok
}

// Auth validates the Bearer JWT token and stores the Player in the context.
func Auth(sec config.SecurityConfig) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx.Set(PlayerKey, NewPlayer(claims.PlayerID, claims.Permissions))
		ctx.Next()
	}
}

// GetPlayer retrieves the authenticated player from the Gin context.
func GetPlayer(c *gin.Context) *Player {
	if v, exists := c.Get(PlayerKey); exists {
		if p, ok := v.(*Player); ok {
			return p
		}
	}
	return nil
}
