package model

import "time"

// AcceptanceStatus constants for client-uploaded documents
const (
	DocumentPending              = "pending"
	DocumentAcceptedByStrategist = "accepted_by_strategist"
	DocumentRejectedByStrategist = "rejected_by_strategist"
)

// Document represents an uploaded file
type Document struct {
	ID               string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AgreementID      string    `json:"agreement_id" gorm:"index;type:varchar(36);not null"`
	TodoID           string    `json:"todo_id,omitempty" gorm:"type:varchar(36)"`
	Name             string    `json:"name" gorm:"type:varchar(255)"`
	Category         string    `json:"category" gorm:"type:varchar(64)"`
	ObjectKey        string    `json:"-" gorm:"type:varchar(512)"`
	ContentType      string    `json:"content_type" gorm:"type:varchar(128)"`
	Size             int64     `json:"size"`
	AcceptanceStatus string    `json:"acceptance_status" gorm:"type:varchar(32)"`
	RejectReason     string    `json:"reject_reason,omitempty" gorm:"type:varchar(512)"`
	UploadedBy       string    `json:"uploaded_by" gorm:"type:varchar(64)"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Document) TableName() string { return "documents" }

// StrategyReviewStatus tracks a strategy document through compliance and
// client review
type StrategyReviewStatus string

const (
	StrategyPendingCompliance  StrategyReviewStatus = "pending_compliance"
	StrategyComplianceApproved StrategyReviewStatus = "compliance_approved"
	StrategyComplianceRejected StrategyReviewStatus = "compliance_rejected"
	StrategyClientAccepted     StrategyReviewStatus = "client_accepted"
	StrategyClientDeclined     StrategyReviewStatus = "client_declined"
)

// StrategyDocument is the tax-strategy artifact of an agreement
type StrategyDocument struct {
	ID           string               `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AgreementID  string               `json:"agreement_id" gorm:"index;type:varchar(36);not null"`
	Name         string               `json:"name" gorm:"type:varchar(255)"`
	ObjectKey    string               `json:"-" gorm:"type:varchar(512)"`
	ContentType  string               `json:"content_type" gorm:"type:varchar(128)"`
	ReviewStatus StrategyReviewStatus `json:"review_status" gorm:"type:varchar(32)"`
	ReviewerID   string               `json:"reviewer_id,omitempty" gorm:"type:varchar(64)"`
	ReviewNote   string               `json:"review_note,omitempty" gorm:"type:varchar(1024)"`
	Revision     int                  `json:"revision"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func (StrategyDocument) TableName() string { return "strategy_documents" }
