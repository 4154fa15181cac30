package database

import "errors"

// ErrParentMismatch is returned by CreateMessage when the referenced
// parent message does not exist in the same hub.
var ErrParentMismatch = errors.New("parent message belongs to a different hub")

// ErrMembershipExists is returned by RequestMembership when a
// membership row for the (account, hub) pair already exists.
var ErrMembershipExists = errors.New("membership already requested")

type HubChatRepository interface {
	Ping() error
	Close() error

	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	ListAccounts() ([]User, error)

	CreateHub(params CreateHubParams) (Hub, error)
	GetHubById(hubId int) (Hub, error)
	GetHubByExternalId(externalId string) (Hub, error)
	ListHubsForAccount(accountId int) ([]Hub, error)
	ListHubs() ([]Hub, error)
	UpdateHub(params UpdateHubParams) (Hub, error)

	RequestMembership(accountId, hubId int) (Membership, error)
	ApproveMembership(accountId, hubId int) (Membership, error)
	PendingMemberships(hubId int) ([]Membership, error)
	ApprovedMembers(hubId int) ([]Membership, error)
	DeleteMembership(accountId, hubId, bannedById int) error
	BanHistory(hubId int) ([]BanRecord, error)
	IsApprovedMember(accountId, hubId int) (bool, error)

	CreateMessage(params CreateMessageParams) (Message, error)
	ListMessages(hubId, before, limit int) ([]Message, error)

	CreateEvent(params CreateEventParams) (Event, error)
	GetEventById(eventId int) (Event, error)
	ListEvents(hubId int) ([]Event, error)
	UpcomingEvents(hubId, limit int) ([]Event, error)
	UpcomingEventsForAccount(accountId, limit int) ([]Event, error)
	UpdateEvent(params UpdateEventParams) (Event, error)
	SetAttendance(eventId, accountId int, attending bool) error
	AttendeeCount(eventId int) (int, error)
}
