package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Vendor is the counterparty resolved from an invoice issuer
type Vendor struct {
	ID          int64     `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	TaxID       string    `json:"tax_id" gorm:"size:14;uniqueIndex;not null"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Placeholder bool      `json:"placeholder"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName overrides the gorm table name
func (Vendor) TableName() string {
	return "vendors"
}

// PayableBill is a financial obligation created from a processed invoice
type PayableBill struct {
	ID          int64           `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	VendorID    int64           `json:"vendor_id,string" gorm:"index;not null"`
	VendorName  string          `json:"vendor_name"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:decimal(15,2);not null"`
	DueDate     time.Time       `json:"due_date"`
	DocumentRef string          `json:"document_ref" gorm:"size:44;index"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// TableName overrides the gorm table name
func (PayableBill) TableName() string {
	return "payable_bills"
}
