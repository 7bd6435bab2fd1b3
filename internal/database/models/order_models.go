package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Order struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64           `gorm:"index;not null" json:"user_id"`
	Number       string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"number"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	DeliveryDate *time.Time      `gorm:"type:date" json:"delivery_date,omitempty"`
	DispatchDate *time.Time      `gorm:"type:date" json:"dispatch_date,omitempty"`
	TotalHT      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_ht"`
	Comment      string          `gorm:"type:text" json:"comment"`
	UpdatedAt    time.Time       `json:"updated_at"`

	User  *User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Lines []OrderLine `gorm:"foreignKey:OrderID" json:"lines"`
}

type OrderLine struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID     int64           `gorm:"index;not null" json:"order_id"`
	Position    int             `gorm:"not null" json:"position"`
	ProductRef  string          `gorm:"type:varchar(50);not null" json:"product_ref"`
	ProductName string          `gorm:"type:varchar(200)" json:"product_name"`
	Quantity    decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"unit_price"`
	LineTotal   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"line_total"`
}

// BeforeSave keeps the line total in step with quantity and unit price on
// every insert and update.
func (l *OrderLine) BeforeSave(tx *gorm.DB) error {
	l.LineTotal = l.ComputeTotal()
	return nil
}

func (l OrderLine) ComputeTotal() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice).Round(2)
}

// SumLines adds up the computed totals of lines.
func SumLines(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.ComputeTotal())
	}
	return total
}
