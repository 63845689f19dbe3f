package quest

import "github.com/kasuganosora/questkeeper/store"

// Outcome is the result of a lifecycle or admin operation. Store results and
// guard failures are distinct so that callers can tell an invalid request
// from a system failure.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeError          Outcome = "error"
	OutcomeNoRowsAffected Outcome = "no_rows_affected"

	OutcomeQuestNotExist         Outcome = "quest_not_exist"
	OutcomeQuestExist            Outcome = "quest_exist"
	OutcomeQuestNameTooLong      Outcome = "quest_name_too_long"
	OutcomeQuestNotConfigured    Outcome = "quest_not_configured"
	OutcomeQuestNoPermission     Outcome = "quest_no_permission"
	OutcomeQuestAlreadyActive    Outcome = "quest_already_active"
	OutcomeQuestAlreadyCompleted Outcome = "quest_already_completed"
	OutcomeQuestNoActive         Outcome = "quest_no_active"
	OutcomeQuestNotActive        Outcome = "quest_not_active"

	OutcomeRequirementNotExist    Outcome = "requirement_not_exist"
	OutcomeInvalidRequirementType Outcome = "invalid_requirement_type"
	OutcomeInvalidInput           Outcome = "invalid_input"
	OutcomeInvalidDuration        Outcome = "invalid_duration"

	OutcomeRewardNotExist     Outcome = "reward_not_exist"
	OutcomeRewardAlreadyAdded Outcome = "reward_already_added"
	OutcomeRewardNotAdded     Outcome = "reward_not_added"
)

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o == OutcomeSuccess }

// IsFailure reports whether the outcome is a system failure rather than a
// rejected request.
func (o Outcome) IsFailure() bool { return o == OutcomeError }

func fromResult(r store.Result) Outcome {
	switch r {
	case store.ResultSuccess:
		return OutcomeSuccess
	case store.ResultNoRowsAffected:
		return OutcomeNoRowsAffected
	default:
		return OutcomeError
	}
}
