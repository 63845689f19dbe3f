package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questkeeper/game/quest"
	"go.uber.org/zap"
)

// Recovery turns a panic in a handler into the API's error outcome
// {"result":"error","trace_id":...} with status 500, and logs it with the
// route, the trace id and, behind Auth, the player.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			fields := []zap.Field{
				zap.Any("panic", r),
				zap.String("trace_id", GetTraceID(c)),
				zap.String("route", c.FullPath()),
				zap.Stack("stack"),
			}
			if p := GetPlayer(c); p != nil {
				fields = append(fields, zap.String("player_id", p.ID()))
			}
			log.Error("handler panic", fields...)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"result":   quest.OutcomeError,
				"trace_id": GetTraceID(c),
			})
		}()
		c.Next()
	}
}
