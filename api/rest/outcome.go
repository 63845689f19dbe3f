package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questkeeper/game/quest"
	mw "github.com/kasuganosora/questkeeper/middleware"
)

// StatusFor maps an operation outcome to an HTTP status code.
func StatusFor(out quest.Outcome) int {
	switch out {
	case quest.OutcomeSuccess:
		return http.StatusOK
	case quest.OutcomeQuestNotExist, quest.OutcomeRequirementNotExist,
		quest.OutcomeRewardNotExist, quest.OutcomeQuestNoActive:
		return http.StatusNotFound
	case quest.OutcomeQuestNoPermission:
		return http.StatusForbidden
	case quest.OutcomeInvalidInput, quest.OutcomeInvalidDuration,
		quest.OutcomeInvalidRequirementType, quest.OutcomeQuestNameTooLong:
		return http.StatusBadRequest
	case quest.OutcomeQuestNotConfigured:
		return http.StatusUnprocessableEntity
	case quest.OutcomeQuestExist, quest.OutcomeQuestAlreadyActive, quest.OutcomeQuestAlreadyCompleted,
		quest.OutcomeQuestNotActive, quest.OutcomeRewardAlreadyAdded, quest.OutcomeRewardNotAdded,
		quest.OutcomeNoRowsAffected:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respond writes {"result": out} with the matching status, merged with extra
// fields on success. Failures carry the request's trace id.
func respond(c *gin.Context, out quest.Outcome, extra gin.H) {
	body := gin.H{"result": out}
	if out.OK() {
		for k, v := range extra {
			body[k] = v
		}
	} else if id := mw.GetTraceID(c); id != "" {
		body["trace_id"] = id
	}
	c.JSON(StatusFor(out), body)
}
