package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargeStatus constants
const (
	ChargePending = "pending"
	ChargePaid    = "paid"
	ChargeExpired = "expired"
)

// Charge is a payment request against an agreement
type Charge struct {
	ID                string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AgreementID       string          `json:"agreement_id" gorm:"index;type:varchar(36);not null"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(12,2)"`
	Currency          string          `json:"currency" gorm:"type:varchar(3)"`
	Status            string          `json:"status" gorm:"type:varchar(16)"`
	PaymentLink       string          `json:"payment_link,omitempty" gorm:"type:varchar(1024)"`
	CheckoutSessionID string          `json:"checkout_session_id,omitempty" gorm:"index;type:varchar(128)"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Charge) TableName() string { return "charges" }

// EnvelopeStatus constants
const (
	EnvelopeSent      = "sent"
	EnvelopeCompleted = "completed"
	EnvelopeVoided    = "voided"
)

// Envelope is the signature request sent for an agreement
type Envelope struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AgreementID string     `json:"agreement_id" gorm:"index;type:varchar(36);not null"`
	Status      string     `json:"status" gorm:"type:varchar(16)"`
	SignerName  string     `json:"signer_name,omitempty" gorm:"type:varchar(255)"`
	SignedAt    *time.Time `json:"signed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Envelope) TableName() string { return "envelopes" }
