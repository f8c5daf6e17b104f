package model

import "time"

// TodoKind is the action a todo asks the client for
type TodoKind string

const (
	TodoSign           TodoKind = "sign"
	TodoPay            TodoKind = "pay"
	TodoUploadDocument TodoKind = "upload_document"
)

// TodoStatus constants
const (
	TodoPending   = "pending"
	TodoCompleted = "completed"
)

// Todo is a requested action tracked against an agreement
type Todo struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AgreementID string    `json:"agreement_id" gorm:"index;type:varchar(36);not null"`
	Kind        TodoKind  `json:"kind" gorm:"type:varchar(32)"`
	Title       string    `json:"title" gorm:"type:varchar(255)"`
	Category    string    `json:"category,omitempty" gorm:"type:varchar(64)"`
	Status      string    `json:"status" gorm:"type:varchar(16)"`
	DocumentID  string    `json:"document_id,omitempty" gorm:"type:varchar(36)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Todo) TableName() string { return "todos" }
