package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgreementStatus is the persisted lifecycle status of an agreement
type AgreementStatus string

const (
	AgreementDraft                  AgreementStatus = "DRAFT"
	AgreementPendingSignature       AgreementStatus = "PENDING_SIGNATURE"
	AgreementPendingPayment         AgreementStatus = "PENDING_PAYMENT"
	AgreementPendingTodosCompletion AgreementStatus = "PENDING_TODOS_COMPLETION"
	AgreementPendingStrategy        AgreementStatus = "PENDING_STRATEGY"
	AgreementPendingStrategyReview  AgreementStatus = "PENDING_STRATEGY_REVIEW"
	AgreementCompleted              AgreementStatus = "COMPLETED"
	AgreementCancelled              AgreementStatus = "CANCELLED"
)

// agreementRank orders the onboarding statuses. CANCELLED and unknown
// statuses have no rank.
var agreementRank = map[AgreementStatus]int{
	AgreementDraft:                  0,
	AgreementPendingSignature:       1,
	AgreementPendingPayment:         2,
	AgreementPendingTodosCompletion: 3,
	AgreementPendingStrategy:        4,
	AgreementPendingStrategyReview:  5,
	AgreementCompleted:              6,
}

// Rank returns the position of the status in the onboarding order, or -1
func (s AgreementStatus) Rank() int {
	if r, ok := agreementRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is at or past other in the onboarding order
func (s AgreementStatus) AtLeast(other AgreementStatus) bool {
	r := s.Rank()
	return r >= 0 && r >= other.Rank()
}

// Terminal reports whether no further transition is allowed
func (s AgreementStatus) Terminal() bool {
	return s == AgreementCompleted || s == AgreementCancelled
}

// Valid reports whether s is a known status
func (s AgreementStatus) Valid() bool {
	return s == AgreementCancelled || s.Rank() >= 0
}

// AgreementMetadata links an agreement to its signature envelope and
// strategy document
type AgreementMetadata struct {
	StrategyDocumentID string `json:"strategyDocumentId,omitempty"`
	EnvelopeID         string `json:"envelopeId,omitempty"`
}

// IsZero reports whether no link is set
func (m AgreementMetadata) IsZero() bool {
	return m.StrategyDocumentID == "" && m.EnvelopeID == ""
}

// Agreement is a service contract between a strategist and a client
type Agreement struct {
	ID           string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ClientID     string            `json:"client_id" gorm:"index;type:varchar(64);not null"`
	StrategistID string            `json:"strategist_id" gorm:"index;type:varchar(64);not null"`
	Title        string            `json:"title" gorm:"type:varchar(255)"`
	Description  string            `json:"description" gorm:"type:text"`
	Price        decimal.Decimal   `json:"price" gorm:"type:numeric(12,2)"`
	Currency     string            `json:"currency" gorm:"type:varchar(3)"`
	Status       AgreementStatus   `json:"status" gorm:"type:varchar(32);index"`
	Metadata     AgreementMetadata `json:"metadata" gorm:"serializer:json"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (Agreement) TableName() string { return "agreements" }
