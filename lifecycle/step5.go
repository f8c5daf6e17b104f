package lifecycle

import "github.com/AnTengye/casedesk/model"

// Step5Phase is the position of an agreement in the strategy review phase
type Step5Phase string

const (
	PhaseNotStarted         Step5Phase = "not_started"
	PhaseComplianceReview   Step5Phase = "compliance_review"
	PhaseComplianceRejected Step5Phase = "compliance_rejected"
	PhaseComplianceApproved Step5Phase = "compliance_approved"
	PhaseClientReview       Step5Phase = "client_review"
	PhaseClientDeclined     Step5Phase = "client_declined"
	PhaseComplete           Step5Phase = "complete"
)

// Step5State is the strategy phase plus the flags rendered on the timeline
type Step5State struct {
	Phase    Step5Phase `json:"phase"`
	Sent     bool       `json:"sent"`
	Complete bool       `json:"complete"`
}

// StrategySent reports whether the strategy has been delivered to the client
func StrategySent(status model.AgreementStatus) bool {
	return status == model.AgreementPendingStrategyReview || status == model.AgreementCompleted
}

// ComputeStep5State derives the strategy phase from the agreement status and
// the review status of its strategy document. A nil review means no strategy
// has been submitted.
func ComputeStep5State(status model.AgreementStatus, review *model.StrategyReviewStatus) Step5State {
	state := Step5State{Sent: StrategySent(status)}

	switch {
	case status == model.AgreementCompleted:
		state.Phase = PhaseComplete
	case review == nil:
		state.Phase = PhaseNotStarted
	default:
		switch *review {
		case model.StrategyPendingCompliance:
			state.Phase = PhaseComplianceReview
		case model.StrategyComplianceRejected:
			state.Phase = PhaseComplianceRejected
		case model.StrategyComplianceApproved:
			if state.Sent {
				state.Phase = PhaseClientReview
			} else {
				state.Phase = PhaseComplianceApproved
			}
		case model.StrategyClientDeclined:
			state.Phase = PhaseClientDeclined
		case model.StrategyClientAccepted:
			state.Phase = PhaseComplete
		default:
			state.Phase = PhaseNotStarted
		}
	}

	state.Complete = state.Phase == PhaseComplete
	return state
}

// StatusKey maps the phase onto the coarse client status
func (p Step5Phase) StatusKey() StatusKey {
	switch p {
	case PhaseComplianceReview:
		return StatusAwaitingCompliance
	case PhaseComplianceApproved, PhaseClientReview:
		return StatusAwaitingApproval
	case PhaseComplete:
		return StatusActive
	default:
		// not started, or sent back for a new revision
		return StatusReadyForStrategy
	}
}
