package studio

import (
	"time"

	"github.com/google/uuid"
)

// CreditAccount holds a user's balance in micro-credits.
type CreditAccount struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Balance   int64     `gorm:"column:balance;not null" json:"balance"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (CreditAccount) TableName() string { return "credit_account" }
