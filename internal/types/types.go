package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	IsSuperuser  bool      `json:"is_superuser,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Hub struct {
	Id          int       `json:"id"`
	ExternalId  string    `json:"external_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AdminId     int       `json:"admin_id"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Membership struct {
	Id          int        `json:"id"`
	HubId       int        `json:"hub_id"`
	UserId      int        `json:"user_id"`
	Username    string     `json:"username"`
	IsApproved  bool       `json:"is_approved"`
	RequestedAt time.Time  `json:"requested_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
}

// Message is the wire form of a persisted chat message. ParentId is
// null when the message starts a new thread.
type Message struct {
	Id        int       `json:"id"`
	HubId     int       `json:"-"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	MediaURL  string    `json:"media_url,omitempty"`
	ParentId  *int      `json:"parent_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Event struct {
	Id            int       `json:"id"`
	HubId         int       `json:"hub_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Location      string    `json:"location,omitempty"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time,omitempty"`
	CreatedBy     string    `json:"created_by,omitempty"`
	AttendeeCount int       `json:"attendees_count"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}
