package service

import (
	"context"

	"github.com/AnTengye/casedesk/model"
)

// AgreementFilter narrows ListAgreements. Empty fields match everything.
type AgreementFilter struct {
	ClientID     string
	StrategistID string
	Status       model.AgreementStatus
}

func (f AgreementFilter) match(a *model.Agreement) bool {
	if f.ClientID != "" && a.ClientID != f.ClientID {
		return false
	}
	if f.StrategistID != "" && a.StrategistID != f.StrategistID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}

// Repository persists the case records. Get methods return ErrNotFound for
// missing ids; list methods return records ordered newest first.
type Repository interface {
	SaveAgreement(ctx context.Context, a *model.Agreement) error
	GetAgreement(ctx context.Context, id string) (*model.Agreement, error)
	ListAgreements(ctx context.Context, filter AgreementFilter) ([]*model.Agreement, error)

	SaveTodo(ctx context.Context, t *model.Todo) error
	GetTodo(ctx context.Context, id string) (*model.Todo, error)
	ListTodos(ctx context.Context, agreementID string) ([]*model.Todo, error)

	SaveDocument(ctx context.Context, d *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context, agreementID string) ([]*model.Document, error)

	SaveStrategyDocument(ctx context.Context, d *model.StrategyDocument) error
	GetStrategyDocument(ctx context.Context, id string) (*model.StrategyDocument, error)

	SaveCharge(ctx context.Context, c *model.Charge) error
	GetCharge(ctx context.Context, id string) (*model.Charge, error)
	ListCharges(ctx context.Context, agreementID string) ([]*model.Charge, error)
	FindChargeBySession(ctx context.Context, sessionID string) (*model.Charge, error)

	SaveEnvelope(ctx context.Context, e *model.Envelope) error
	GetEnvelope(ctx context.Context, id string) (*model.Envelope, error)
}

var (
	_ Repository = (*MemoryStore)(nil)
	_ Repository = (*GormStore)(nil)
)
