package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	IsSuperuser  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Hub struct {
	Id          int
	ExternalId  string
	Name        string
	Description string
	AdminId     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Membership struct {
	Id          int
	HubId       int
	AccountId   int
	Username    string
	IsApproved  bool
	RequestedAt time.Time
	ApprovedAt  *time.Time
}

type Message struct {
	Id             int
	HubId          int
	SenderId       int
	SenderUsername string
	Content        string
	ParentId       *int
	MediaURL       string
	CreatedAt      time.Time
}

type Event struct {
	Id            int
	HubId         int
	Title         string
	Description   string
	Location      string
	StartTime     time.Time
	EndTime       time.Time
	CreatedById   int
	CreatedBy     string
	AttendeeCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type BanRecord struct {
	Id       int
	HubId    int
	UserId   int
	Username string
	BannedBy string
	BannedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateHubParams struct {
	Name        string
	Description string
	AdminId     int
	ExternalId  string
}

type UpdateHubParams struct {
	HubId       int
	Name        string
	Description string
}

type CreateMessageParams struct {
	HubId    int
	SenderId int
	Content  string
	ParentId *int
	MediaURL string
}

type CreateEventParams struct {
	HubId       int
	Title       string
	Description string
	Location    string
	StartTime   time.Time
	EndTime     time.Time
	CreatedById int
}

type UpdateEventParams struct {
	EventId     int
	Title       string
	Description string
	Location    string
	StartTime   time.Time
	EndTime     time.Time
}
