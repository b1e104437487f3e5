package identity

import "time"

type Admin struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(100);not null" json:"-"`
	Role         string    `gorm:"type:varchar(16);not null;default:admin" json:"role"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Admin) TableName() string { return "admins" }

// Visitor is a registered website visitor. The presence fields are maintained
// as side effects of support-chat traffic.
type Visitor struct {
	ID                 uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name               string     `gorm:"type:varchar(128);not null" json:"name"`
	Email              string     `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`
	Phone              string     `gorm:"type:varchar(32)" json:"phone,omitempty"`
	PasswordHash       string     `gorm:"type:varchar(100);not null" json:"-"`
	CurrentSessionID   string     `gorm:"type:varchar(64);index" json:"current_session_id,omitempty"`
	IsOnline           bool       `gorm:"not null;default:false" json:"is_online"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	UnreadMessageCount int        `gorm:"not null;default:0" json:"unread_message_count"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (Visitor) TableName() string { return "visitors" }

// Principal is the authenticated caller. Role is fixed at login time.
type Principal struct {
	ID    uint64
	Role  string
	Email string
}

func (p Principal) IsAdmin() bool { return p.Role == "admin" }
