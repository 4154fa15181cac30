package database

import (
	"github.com/stretchr/testify/mock"
)

type MockHubChatRepository struct {
	mock.Mock
}

func (m *MockHubChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockHubChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockHubChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockHubChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockHubChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockHubChatRepository) ListAccounts() ([]User, error) {
	args := m.Called()
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockHubChatRepository) CreateHub(params CreateHubParams) (Hub, error) {
	args := m.Called(params)
	return args.Get(0).(Hub), args.Error(1)
}
func (m *MockHubChatRepository) GetHubById(hubId int) (Hub, error) {
	args := m.Called(hubId)
	return args.Get(0).(Hub), args.Error(1)
}
func (m *MockHubChatRepository) GetHubByExternalId(externalId string) (Hub, error) {
	args := m.Called(externalId)
	return args.Get(0).(Hub), args.Error(1)
}
func (m *MockHubChatRepository) ListHubsForAccount(accountId int) ([]Hub, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Hub), args.Error(1)
}
func (m *MockHubChatRepository) ListHubs() ([]Hub, error) {
	args := m.Called()
	return args.Get(0).([]Hub), args.Error(1)
}
func (m *MockHubChatRepository) UpdateHub(params UpdateHubParams) (Hub, error) {
	args := m.Called(params)
	return args.Get(0).(Hub), args.Error(1)
}
func (m *MockHubChatRepository) RequestMembership(accountId, hubId int) (Membership, error) {
	args := m.Called(accountId, hubId)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockHubChatRepository) ApproveMembership(accountId, hubId int) (Membership, error) {
	args := m.Called(accountId, hubId)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockHubChatRepository) PendingMemberships(hubId int) ([]Membership, error) {
	args := m.Called(hubId)
	return args.Get(0).([]Membership), args.Error(1)
}
func (m *MockHubChatRepository) ApprovedMembers(hubId int) ([]Membership, error) {
	args := m.Called(hubId)
	return args.Get(0).([]Membership), args.Error(1)
}
func (m *MockHubChatRepository) DeleteMembership(accountId, hubId, bannedById int) error {
	args := m.Called(accountId, hubId, bannedById)
	return args.Error(0)
}
func (m *MockHubChatRepository) BanHistory(hubId int) ([]BanRecord, error) {
	args := m.Called(hubId)
	return args.Get(0).([]BanRecord), args.Error(1)
}
func (m *MockHubChatRepository) IsApprovedMember(accountId, hubId int) (bool, error) {
	args := m.Called(accountId, hubId)
	return args.Bool(0), args.Error(1)
}
func (m *MockHubChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockHubChatRepository) ListMessages(hubId, before, limit int) ([]Message, error) {
	args := m.Called(hubId, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockHubChatRepository) CreateEvent(params CreateEventParams) (Event, error) {
	args := m.Called(params)
	return args.Get(0).(Event), args.Error(1)
}
func (m *MockHubChatRepository) GetEventById(eventId int) (Event, error) {
	args := m.Called(eventId)
	return args.Get(0).(Event), args.Error(1)
}
func (m *MockHubChatRepository) ListEvents(hubId int) ([]Event, error) {
	args := m.Called(hubId)
	return args.Get(0).([]Event), args.Error(1)
}
func (m *MockHubChatRepository) UpcomingEvents(hubId, limit int) ([]Event, error) {
	args := m.Called(hubId, limit)
	return args.Get(0).([]Event), args.Error(1)
}
func (m *MockHubChatRepository) UpcomingEventsForAccount(accountId, limit int) ([]Event, error) {
	args := m.Called(accountId, limit)
	return args.Get(0).([]Event), args.Error(1)
}
func (m *MockHubChatRepository) UpdateEvent(params UpdateEventParams) (Event, error) {
	args := m.Called(params)
	return args.Get(0).(Event), args.Error(1)
}
func (m *MockHubChatRepository) SetAttendance(eventId, accountId int, attending bool) error {
	args := m.Called(eventId, accountId, attending)
	return args.Error(0)
}
func (m *MockHubChatRepository) AttendeeCount(eventId int) (int, error) {
	args := m.Called(eventId)
	return args.Int(0), args.Error(1)
}
