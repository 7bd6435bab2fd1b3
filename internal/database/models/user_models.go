package models

import "time"

type User struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string     `gorm:"type:varchar(150);uniqueIndex;not null" json:"username"`
	Email     string     `gorm:"type:varchar(254);index" json:"email"`
	Password  string     `gorm:"not null" json:"-"`
	Firstname string     `gorm:"type:varchar(150)" json:"firstname"`
	Lastname  string     `gorm:"type:varchar(150)" json:"lastname"`
	IsStaff   bool       `gorm:"not null" json:"is_staff"`
	IsActive  bool       `gorm:"not null" json:"is_active"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Profile *Profile `gorm:"foreignKey:UserID" json:"profile,omitempty"`
}

// Profile links an extranet account to a client of the line-of-business
// database.
type Profile struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	ClientCode string    `gorm:"type:varchar(20);index" json:"client_code"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type PasswordResetRequest struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64      `gorm:"index;not null" json:"user_id"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	Processed   bool       `gorm:"not null;index" json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (u User) FullName() string {
	switch {
	case u.Firstname != "" && u.Lastname != "":
		return u.Firstname + " " + u.Lastname
	case u.Firstname != "":
		return u.Firstname
	case u.Lastname != "":
		return u.Lastname
	}
	return u.Username
}
