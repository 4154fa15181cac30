package database

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/lib/pq"
)

func (db *PgHubChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email, created_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgHubChatRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, is_superuser, created_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.IsSuperuser,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgHubChatRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, is_superuser, created_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.IsSuperuser,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgHubChatRepository) ListAccounts() ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT id, username, email, is_superuser, created_at FROM accounts ORDER BY username",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(
			&u.Id,
			&u.Username,
			&u.EmailAddress,
			&u.IsSuperuser,
			&u.CreatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgHubChatRepository) CreateHub(params CreateHubParams) (Hub, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Hub{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRow(
		"INSERT INTO hubs (external_id, name, description, admin_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, external_id, name, description, admin_id, created_at, updated_at",
		params.ExternalId,
		params.Name,
		params.Description,
		params.AdminId,
		now,
	)

	var h Hub
	if err := row.Scan(
		&h.Id,
		&h.ExternalId,
		&h.Name,
		&h.Description,
		&h.AdminId,
		&h.CreatedAt,
		&h.UpdatedAt,
	); err != nil {
		return Hub{}, err
	}

	// the admin is always an approved member of their own hub
	if _, err := tx.Exec(
		"INSERT INTO hub_memberships (hub_id, account_id, is_approved, requested_at, approved_at) "+
			"VALUES ($1, $2, TRUE, $3, $3)",
		h.Id,
		params.AdminId,
		now,
	); err != nil {
		return Hub{}, err
	}

	return h, tx.Commit()
}

func (db *PgHubChatRepository) GetHubById(hubId int) (Hub, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, admin_id, created_at, updated_at FROM hubs "+
			"WHERE id = $1 LIMIT 1",
		hubId,
	)

	return scanHub(row)
}

func (db *PgHubChatRepository) GetHubByExternalId(externalId string) (Hub, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, admin_id, created_at, updated_at FROM hubs "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	return scanHub(row)
}

func scanHub(row *sql.Row) (Hub, error) {
	var h Hub
	err := row.Scan(
		&h.Id,
		&h.ExternalId,
		&h.Name,
		&h.Description,
		&h.AdminId,
		&h.CreatedAt,
		&h.UpdatedAt,
	)

	return h, err
}

func (db *PgHubChatRepository) ListHubsForAccount(accountId int) ([]Hub, error) {
	return db.queryHubs(
		"SELECT h.id, h.external_id, h.name, h.description, h.admin_id, h.created_at, h.updated_at "+
			"FROM hubs h JOIN hub_memberships m ON m.hub_id = h.id "+
			"WHERE m.account_id = $1 AND m.is_approved ORDER BY h.name",
		accountId,
	)
}

func (db *PgHubChatRepository) ListHubs() ([]Hub, error) {
	return db.queryHubs(
		"SELECT id, external_id, name, description, admin_id, created_at, updated_at " +
			"FROM hubs ORDER BY name",
	)
}

func (db *PgHubChatRepository) queryHubs(query string, args ...any) ([]Hub, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hubs []Hub
	for rows.Next() {
		var h Hub
		if err := rows.Scan(
			&h.Id,
			&h.ExternalId,
			&h.Name,
			&h.Description,
			&h.AdminId,
			&h.CreatedAt,
			&h.UpdatedAt,
		); err != nil {
			return nil, err
		}
		hubs = append(hubs, h)
	}

	return hubs, rows.Err()
}

func (db *PgHubChatRepository) UpdateHub(params UpdateHubParams) (Hub, error) {
	row := db.conn.QueryRow(
		"UPDATE hubs SET name = $2, description = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, external_id, name, description, admin_id, created_at, updated_at",
		params.HubId,
		params.Name,
		params.Description,
		time.Now().UTC(),
	)

	return scanHub(row)
}

func (db *PgHubChatRepository) RequestMembership(accountId, hubId int) (Membership, error) {
	row := db.conn.QueryRow(
		"INSERT INTO hub_memberships (hub_id, account_id, is_approved, requested_at) "+
			"VALUES ($1, $2, FALSE, $3) RETURNING id, hub_id, account_id, is_approved, requested_at",
		hubId,
		accountId,
		time.Now().UTC(),
	)

	var m Membership
	err := row.Scan(
		&m.Id,
		&m.HubId,
		&m.AccountId,
		&m.IsApproved,
		&m.RequestedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return Membership{}, ErrMembershipExists
		}
		return Membership{}, err
	}

	return m, nil
}

func (db *PgHubChatRepository) ApproveMembership(accountId, hubId int) (Membership, error) {
	row := db.conn.QueryRow(
		"UPDATE hub_memberships SET is_approved = TRUE, approved_at = $3 "+
			"WHERE account_id = $1 AND hub_id = $2 "+
			"RETURNING id, hub_id, account_id, is_approved, requested_at, approved_at",
		accountId,
		hubId,
		time.Now().UTC(),
	)

	var m Membership
	err := row.Scan(
		&m.Id,
		&m.HubId,
		&m.AccountId,
		&m.IsApproved,
		&m.RequestedAt,
		&m.ApprovedAt,
	)

	return m, err
}

func (db *PgHubChatRepository) PendingMemberships(hubId int) ([]Membership, error) {
	return db.listMemberships(hubId, false)
}

func (db *PgHubChatRepository) ApprovedMembers(hubId int) ([]Membership, error) {
	return db.listMemberships(hubId, true)
}

func (db *PgHubChatRepository) listMemberships(hubId int, approved bool) ([]Membership, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.hub_id, m.account_id, a.username, m.is_approved, m.requested_at, m.approved_at "+
			"FROM hub_memberships m JOIN accounts a ON a.id = m.account_id "+
			"WHERE m.hub_id = $1 AND m.is_approved = $2 ORDER BY m.requested_at",
		hubId,
		approved,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(
			&m.Id,
			&m.HubId,
			&m.AccountId,
			&m.Username,
			&m.IsApproved,
			&m.RequestedAt,
			&m.ApprovedAt,
		); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

func (db *PgHubChatRepository) DeleteMembership(accountId, hubId, bannedById int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM hub_memberships WHERE account_id = $1 AND hub_id = $2",
		accountId,
		hubId,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(
		"INSERT INTO ban_history (hub_id, account_id, banned_by, banned_at) VALUES ($1, $2, $3, $4)",
		hubId,
		accountId,
		bannedById,
		time.Now().UTC(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgHubChatRepository) BanHistory(hubId int) ([]BanRecord, error) {
	rows, err := db.conn.Query(
		"SELECT b.id, b.hub_id, b.account_id, a.username, ba.username, b.banned_at "+
			"FROM ban_history b "+
			"JOIN accounts a ON a.id = b.account_id "+
			"JOIN accounts ba ON ba.id = b.banned_by "+
			"WHERE b.hub_id = $1 ORDER BY b.banned_at DESC",
		hubId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []BanRecord
	for rows.Next() {
		var b BanRecord
		if err := rows.Scan(
			&b.Id,
			&b.HubId,
			&b.UserId,
			&b.Username,
			&b.BannedBy,
			&b.BannedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, b)
	}

	return records, rows.Err()
}

func (db *PgHubChatRepository) IsApprovedMember(accountId, hubId int) (bool, error) {
	row := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM hub_memberships WHERE account_id = $1 AND hub_id = $2 AND is_approved)",
		accountId,
		hubId,
	)

	var approved bool
	err := row.Scan(&approved)
	return approved, err
}

// CreateMessage inserts a chat message. The insert is guarded so a
// parent reference is only accepted when the parent row exists in the
// same hub; a rejected insert returns ErrParentMismatch.
func (db *PgHubChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRow(
		"WITH ins AS ("+
			"INSERT INTO messages (hub_id, sender_id, content, parent_id, media_url, created_at) "+
			"SELECT $1, $2, $3, $4, $5, $6 "+
			"WHERE $4::integer IS NULL OR EXISTS (SELECT 1 FROM messages WHERE id = $4 AND hub_id = $1) "+
			"RETURNING id, hub_id, sender_id, content, parent_id, media_url, created_at"+
			") SELECT ins.id, ins.hub_id, ins.sender_id, a.username, ins.content, ins.parent_id, ins.media_url, ins.created_at "+
			"FROM ins JOIN accounts a ON a.id = ins.sender_id",
		params.HubId,
		params.SenderId,
		params.Content,
		params.ParentId,
		params.MediaURL,
		time.Now().UTC(),
	)

	var m Message
	err := row.Scan(
		&m.Id,
		&m.HubId,
		&m.SenderId,
		&m.SenderUsername,
		&m.Content,
		&m.ParentId,
		&m.MediaURL,
		&m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrParentMismatch
	}

	return m, err
}

func (db *PgHubChatRepository) ListMessages(hubId, before, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT m.id, m.hub_id, m.sender_id, a.username, m.content, m.parent_id, m.media_url, m.created_at " +
		"FROM messages m JOIN accounts a ON a.id = m.sender_id WHERE m.hub_id = $1"
	args := []any{hubId}

	if before > 0 {
		query += " AND m.id < $2"
		args = append(args, before)
	}
	query += " ORDER BY m.id DESC LIMIT $" + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.Id,
			&m.HubId,
			&m.SenderId,
			&m.SenderUsername,
			&m.Content,
			&m.ParentId,
			&m.MediaURL,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (db *PgHubChatRepository) CreateEvent(params CreateEventParams) (Event, error) {
	row := db.conn.QueryRow(
		"WITH ins AS ("+
			"INSERT INTO events (hub_id, title, description, location, start_time, end_time, created_by, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) "+
			"RETURNING id, hub_id, title, description, location, start_time, end_time, created_by, created_at, updated_at"+
			") SELECT ins.id, ins.hub_id, ins.title, ins.description, ins.location, ins.start_time, ins.end_time, "+
			"ins.created_by, a.username, ins.created_at, ins.updated_at "+
			"FROM ins JOIN accounts a ON a.id = ins.created_by",
		params.HubId,
		params.Title,
		params.Description,
		params.Location,
		params.StartTime,
		params.EndTime,
		params.CreatedById,
		time.Now().UTC(),
	)

	return scanEventRow(row)
}

func scanEventRow(row *sql.Row) (Event, error) {
	var e Event
	err := row.Scan(
		&e.Id,
		&e.HubId,
		&e.Title,
		&e.Description,
		&e.Location,
		&e.StartTime,
		&e.EndTime,
		&e.CreatedById,
		&e.CreatedBy,
		&e.CreatedAt,
		&e.UpdatedAt,
	)

	return e, err
}

const selectEvent = "SELECT e.id, e.hub_id, e.title, e.description, e.location, e.start_time, e.end_time, " +
	"e.created_by, a.username, e.created_at, e.updated_at, " +
	"(SELECT COUNT(*) FROM event_attendances ea WHERE ea.event_id = e.id AND ea.attending) " +
	"FROM events e JOIN accounts a ON a.id = e.created_by"

func (db *PgHubChatRepository) GetEventById(eventId int) (Event, error) {
	row := db.conn.QueryRow(selectEvent+" WHERE e.id = $1 LIMIT 1", eventId)

	var e Event
	err := row.Scan(
		&e.Id,
		&e.HubId,
		&e.Title,
		&e.Description,
		&e.Location,
		&e.StartTime,
		&e.EndTime,
		&e.CreatedById,
		&e.CreatedBy,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.AttendeeCount,
	)

	return e, err
}

func (db *PgHubChatRepository) ListEvents(hubId int) ([]Event, error) {
	return db.queryEvents(selectEvent+" WHERE e.hub_id = $1 ORDER BY e.start_time", hubId)
}

func (db *PgHubChatRepository) UpcomingEvents(hubId, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 5
	}

	return db.queryEvents(
		selectEvent+" WHERE e.hub_id = $1 AND e.start_time >= $2 ORDER BY e.start_time LIMIT $3",
		hubId,
		time.Now().UTC(),
		limit,
	)
}

// UpcomingEventsForAccount returns the next events across every hub
// the account is an approved member of.
func (db *PgHubChatRepository) UpcomingEventsForAccount(accountId, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 5
	}

	return db.queryEvents(
		selectEvent+" JOIN hub_memberships m ON m.hub_id = e.hub_id "+
			"WHERE m.account_id = $1 AND m.is_approved AND e.start_time >= $2 "+
			"ORDER BY e.start_time LIMIT $3",
		accountId,
		time.Now().UTC(),
		limit,
	)
}

func (db *PgHubChatRepository) queryEvents(query string, args ...any) ([]Event, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.Id,
			&e.HubId,
			&e.Title,
			&e.Description,
			&e.Location,
			&e.StartTime,
			&e.EndTime,
			&e.CreatedById,
			&e.CreatedBy,
			&e.CreatedAt,
			&e.UpdatedAt,
			&e.AttendeeCount,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (db *PgHubChatRepository) UpdateEvent(params UpdateEventParams) (Event, error) {
	row := db.conn.QueryRow(
		"WITH upd AS ("+
			"UPDATE events SET title = $2, description = $3, location = $4, start_time = $5, end_time = $6, updated_at = $7 "+
			"WHERE id = $1 "+
			"RETURNING id, hub_id, title, description, location, start_time, end_time, created_by, created_at, updated_at"+
			") SELECT upd.id, upd.hub_id, upd.title, upd.description, upd.location, upd.start_time, upd.end_time, "+
			"upd.created_by, a.username, upd.created_at, upd.updated_at "+
			"FROM upd JOIN accounts a ON a.id = upd.created_by",
		params.EventId,
		params.Title,
		params.Description,
		params.Location,
		params.StartTime,
		params.EndTime,
		time.Now().UTC(),
	)

	return scanEventRow(row)
}

func (db *PgHubChatRepository) SetAttendance(eventId, accountId int, attending bool) error {
	_, err := db.conn.Exec(
		"INSERT INTO event_attendances (event_id, account_id, attending, updated_at) "+
			"VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (event_id, account_id) DO UPDATE SET attending = $3, updated_at = $4",
		eventId,
		accountId,
		attending,
		time.Now().UTC(),
	)

	return err
}

func (db *PgHubChatRepository) AttendeeCount(eventId int) (int, error) {
	row := db.conn.QueryRow(
		"SELECT COUNT(*) FROM event_attendances WHERE event_id = $1 AND attending",
		eventId,
	)

	var count int
	err := row.Scan(&count)
	return count, err
}
