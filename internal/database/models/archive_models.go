package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PurgeReasonManual  = "manual"
	PurgeReasonExpired = "expired"
)

// LineSnapshot is the serialized form of an order line. Decimal fields are
// kept as strings so the archive round-trips exactly.
type LineSnapshot struct {
	Position    int    `json:"position"`
	ProductRef  string `json:"product_ref"`
	ProductName string `json:"product_name"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

// OrderSnapshot is one order of an archived user, lines included.
type OrderSnapshot struct {
	ID           int64          `json:"id"`
	Number       string         `json:"number"`
	CreatedAt    time.Time      `json:"created_at"`
	DeliveryDate *time.Time     `json:"delivery_date,omitempty"`
	DispatchDate *time.Time     `json:"dispatch_date,omitempty"`
	TotalHT      string         `json:"total_ht"`
	Comment      string         `json:"comment"`
	Lines        []LineSnapshot `json:"lines"`
}

type DeletedOrder struct {
	ID           int64                              `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID      int64                              `gorm:"not null" json:"order_id"`
	UserID       int64                              `gorm:"index;not null" json:"user_id"`
	Username     string                             `gorm:"type:varchar(150)" json:"username"`
	ClientCode   string                             `gorm:"type:varchar(20)" json:"client_code"`
	ClientName   string                             `gorm:"type:varchar(200)" json:"client_name"`
	Number       string                             `gorm:"type:varchar(32);index;not null" json:"number"`
	OrderedAt    time.Time                          `gorm:"not null" json:"ordered_at"`
	DeliveryDate *time.Time                         `gorm:"type:date" json:"delivery_date,omitempty"`
	DispatchDate *time.Time                         `gorm:"type:date" json:"dispatch_date,omitempty"`
	TotalHT      decimal.Decimal                    `gorm:"type:numeric(12,2);not null" json:"total_ht"`
	Comment      string                             `gorm:"type:text" json:"comment"`
	Lines        datatypes.JSONType[[]LineSnapshot] `json:"lines"`
	ArchivedAt   time.Time                          `gorm:"index;not null" json:"archived_at"`
}

type DeletedUser struct {
	ID           int64                               `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64                               `gorm:"not null" json:"user_id"`
	Username     string                              `gorm:"type:varchar(150);index;not null" json:"username"`
	PasswordHash string                              `gorm:"not null" json:"-"`
	Email        string                              `gorm:"type:varchar(254)" json:"email"`
	Firstname    string                              `gorm:"type:varchar(150)" json:"firstname"`
	Lastname     string                              `gorm:"type:varchar(150)" json:"lastname"`
	IsStaff      bool                                `gorm:"not null" json:"is_staff"`
	IsActive     bool                                `gorm:"not null" json:"is_active"`
	JoinedAt     time.Time                           `json:"joined_at"`
	LastLogin    *time.Time                          `json:"last_login,omitempty"`
	ClientCode   string                              `gorm:"type:varchar(20)" json:"client_code"`
	ClientName   string                              `gorm:"type:varchar(200)" json:"client_name"`
	Orders       datatypes.JSONType[[]OrderSnapshot] `json:"orders"`
	ArchivedAt   time.Time                           `gorm:"index;not null" json:"archived_at"`
}

// OrderDeletionHistory and UserDeletionHistory are append-only audit rows.
type OrderDeletionHistory struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Number     string          `gorm:"type:varchar(32);index;not null" json:"number"`
	ClientCode string          `gorm:"type:varchar(20)" json:"client_code"`
	ClientName string          `gorm:"type:varchar(200)" json:"client_name"`
	TotalHT    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"total_ht"`
	Reason     string          `gorm:"type:varchar(16);not null" json:"reason"`
	PurgedAt   time.Time       `gorm:"index;not null" json:"purged_at"`
}

type UserDeletionHistory struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username   string    `gorm:"type:varchar(150);index;not null" json:"username"`
	ClientCode string    `gorm:"type:varchar(20)" json:"client_code"`
	ClientName string    `gorm:"type:varchar(200)" json:"client_name"`
	OrderCount int       `gorm:"not null" json:"order_count"`
	Reason     string    `gorm:"type:varchar(16);not null" json:"reason"`
	PurgedAt   time.Time `gorm:"index;not null" json:"purged_at"`
}

func (d DeletedOrder) Restorable(now time.Time, grace time.Duration) bool {
	return withinGrace(d.ArchivedAt, now, grace)
}

// Remaining is the time left before the archive expires, never negative.
func (d DeletedOrder) Remaining(now time.Time, grace time.Duration) time.Duration {
	return remaining(d.ArchivedAt, now, grace)
}

func (d DeletedUser) Restorable(now time.Time, grace time.Duration) bool {
	return withinGrace(d.ArchivedAt, now, grace)
}

func (d DeletedUser) Remaining(now time.Time, grace time.Duration) time.Duration {
	return remaining(d.ArchivedAt, now, grace)
}

func (d DeletedUser) OrderCount() int {
	return len(d.Orders.Data())
}

func withinGrace(archivedAt, now time.Time, grace time.Duration) bool {
	return now.Sub(archivedAt) < grace
}

func remaining(archivedAt, now time.Time, grace time.Duration) time.Duration {
	left := grace - now.Sub(archivedAt)
	if left < 0 {
		return 0
	}
	return left
}
