// Package lifecycle derives the client status shown on the case timeline.
package lifecycle

import "github.com/AnTengye/casedesk/model"

// StatusKey is the coarse client status
type StatusKey string

const (
	StatusAwaitingAgreement  StatusKey = "awaiting_agreement"
	StatusAwaitingPayment    StatusKey = "awaiting_payment"
	StatusAwaitingDocuments  StatusKey = "awaiting_documents"
	StatusReadyForStrategy   StatusKey = "ready_for_strategy"
	StatusAwaitingCompliance StatusKey = "awaiting_compliance"
	StatusAwaitingApproval   StatusKey = "awaiting_approval"
	StatusActive             StatusKey = "active"
)

// Inputs is everything the resolver looks at
type Inputs struct {
	AgreementStatus   model.AgreementStatus       `json:"agreement_status"`
	SignatureComplete bool                        `json:"signature_complete"`
	PaymentComplete   bool                        `json:"payment_complete"`
	ChargeRequested   bool                        `json:"charge_requested"`
	TotalDocTodos     int                         `json:"total_doc_todos"`
	UploadedDocCount  int                         `json:"uploaded_doc_count"`
	AcceptedDocCount  int                         `json:"accepted_doc_count"`
	StrategyReview    *model.StrategyReviewStatus `json:"strategy_review,omitempty"`
}

// Step is one entry of the progress timeline
type Step struct {
	Sent     bool `json:"sent"`
	Complete bool `json:"complete"`
}

// Progress is the five-step timeline
type Progress [5]Step

// Result is the resolved client status
type Result struct {
	StatusKey StatusKey  `json:"status_key"`
	Step5     Step5State `json:"step5"`
	Progress  Progress   `json:"progress"`
}

// Signed reports whether the agreement has been signed
func (in Inputs) Signed() bool {
	return in.AgreementStatus.AtLeast(model.AgreementPendingPayment) || in.SignatureComplete
}

// Paid reports whether the agreement fee has been collected
func (in Inputs) Paid() bool {
	return in.AgreementStatus.AtLeast(model.AgreementPendingTodosCompletion) || in.PaymentComplete
}

// DocumentsAccepted reports whether every requested document was accepted.
// Nothing requested counts as accepted.
func (in Inputs) DocumentsAccepted() bool {
	return in.TotalDocTodos <= 0 || in.AcceptedDocCount >= in.TotalDocTodos
}

func (in Inputs) documentsUploaded() bool {
	return in.TotalDocTodos <= 0 || in.UploadedDocCount >= in.TotalDocTodos
}

// Resolve computes the client status. It is a pure function of its inputs.
func Resolve(in Inputs) Result {
	signed := in.Signed()
	paid := signed && in.Paid()
	step5 := ComputeStep5State(in.AgreementStatus, in.StrategyReview)

	var key StatusKey
	switch {
	case !signed:
		key = StatusAwaitingAgreement
	case !paid:
		key = StatusAwaitingPayment
	case !in.DocumentsAccepted():
		key = StatusAwaitingDocuments
	default:
		key = step5.Phase.StatusKey()
	}

	return Result{
		StatusKey: key,
		Step5:     step5,
		Progress:  buildProgress(in, signed, paid, step5),
	}
}

func buildProgress(in Inputs, signed, paid bool, step5 Step5State) Progress {
	var p Progress

	p[0] = Step{
		Sent:     in.AgreementStatus.Rank() > 0,
		Complete: signed,
	}
	p[1] = Step{
		Sent:     signed || in.ChargeRequested || in.PaymentComplete,
		Complete: paid,
	}
	p[2] = Step{
		Sent:     in.TotalDocTodos > 0,
		Complete: paid && in.documentsUploaded(),
	}
	p[3] = Step{
		Sent:     in.UploadedDocCount > 0,
		Complete: paid && in.DocumentsAccepted(),
	}
	p[4] = Step{
		Sent:     step5.Sent,
		Complete: step5.Complete,
	}

	return p
}
