package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentTransaction records every gateway notification that was applied.
// The (txn_ref, transaction_no) pair is unique so replays cannot apply twice.
type PaymentTransaction struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	TxnRef        string    `gorm:"column:txn_ref;not null;uniqueIndex:ux_payment_transactions_ref_no,priority:1"`
	TransactionNo string    `gorm:"column:transaction_no;not null;uniqueIndex:ux_payment_transactions_ref_no,priority:2"`
	ResponseCode  string    `gorm:"column:response_code;not null"`
	Amount        int64     `gorm:"column:amount;not null"`
	Source        string    `gorm:"column:source;not null"`
	Outcome       string    `gorm:"column:outcome;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

func (p *PaymentTransaction) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
