package chat

import (
	"time"

	"gorm.io/datatypes"
)

type Sender string

const (
	SenderVisitor   Sender = "visitor"
	SenderAdmin     Sender = "admin"
	SenderAutomated Sender = "automated"
)

type Status string

const (
	StatusNew        Status = "new"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusArchived   Status = "archived"
)

// Valid reports whether s is one of the four workflow states.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusResolved, StatusArchived:
		return true
	}
	return false
}

// Live reports whether s counts as an "active" session (new or in_progress).
// Every filter and aggregate that talks about active sessions goes through this.
func (s Status) Live() bool {
	return s == StatusNew || s == StatusInProgress
}

// LiveStatuses is the stored-value expansion of the derived "active" filter.
var LiveStatuses = []Status{StatusNew, StatusInProgress}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Session struct {
	ID               uint64                      `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID        string                      `gorm:"type:varchar(64);uniqueIndex;not null" json:"session_id"`
	VisitorID        *uint64                     `gorm:"index" json:"visitor_id,omitempty"`
	VisitorEmail     string                      `gorm:"type:varchar(191);index" json:"visitor_email,omitempty"`
	Status           Status                      `gorm:"type:varchar(16);index;not null;default:new" json:"status"`
	Active           bool                        `gorm:"index;not null;default:true" json:"active"`
	Priority         Priority                    `gorm:"type:varchar(8);index;not null;default:medium" json:"priority"`
	AssignedAdmin    *uint64                     `gorm:"index" json:"assigned_admin,omitempty"`
	Tags             datatypes.JSONSlice[string] `json:"tags"`
	UnreadCount      int                         `gorm:"not null;default:0" json:"unread_count"`
	DefaultReplySent bool                        `gorm:"not null;default:false" json:"-"`
	Version          int64                       `gorm:"not null;default:1" json:"version"`
	MessageCount     int                         `gorm:"not null;default:0" json:"message_count"`
	LastMessageAt    time.Time                   `gorm:"index" json:"last_message_at"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

func (Session) TableName() string { return "support_sessions" }

// Message rows are append-only; ID order is chronological order within a session.
type Message struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID    string    `gorm:"type:varchar(64);not null;index:idx_support_msg_session,priority:1" json:"session_id"`
	Sender       Sender    `gorm:"type:varchar(16);not null" json:"sender"`
	Text         string    `gorm:"type:text;not null" json:"text"`
	TextFolded   string    `gorm:"type:text" json:"-"`
	SentAt       time.Time `gorm:"not null" json:"sent_at"`
	VisitorID    *uint64   `json:"visitor_id,omitempty"`
	VisitorEmail string    `gorm:"type:varchar(191)" json:"visitor_email,omitempty"`
	AdminID      *uint64   `json:"admin_id,omitempty"`
}

func (Message) TableName() string { return "support_messages" }
