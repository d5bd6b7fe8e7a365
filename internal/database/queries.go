package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/agorachat/agora/internal/types"
)

const (
	createMembershipQuery = "INSERT INTO room_users (user_id, room_id, role, created_at, updated_at) " +
		"VALUES ($1, $2, $3, $4, $5) RETURNING id, user_id, room_id, role"
	selectJoinRequestCols = "id, room_id, user_id, message, status, COALESCE(approver_id, 0), COALESCE(reason, ''), expires_at, created_at"
)

func (db *PgAgoraRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, role, status, reputation, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, 0, $6, $6) RETURNING id, username, email, role, status, reputation",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		types.RoleUser,
		types.AccountActive,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.Role,
		&u.Status,
		&u.Reputation,
	)

	return u, mapPqError(err)
}

func (db *PgAgoraRepository) GetAccountById(userId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, role, status, reputation, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		userId,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.Role,
		&u.Status,
		&u.Reputation,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgAgoraRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, role, status, reputation FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.Role,
		&u.Status,
		&u.Reputation,
	)

	return u, err
}

func (db *PgAgoraRepository) UpdateAccountStatus(userId int, status types.AccountStatus) error {
	_, err := db.conn.Exec(
		"UPDATE accounts SET status = $2, updated_at = $3 WHERE id = $1",
		userId,
		status,
		time.Now().UTC(),
	)

	return err
}

func (db *PgAgoraRepository) ListModerators() ([]User, error) {
	rows, err := db.conn.Query(
		"SELECT id, username, email, role FROM accounts WHERE role IN ($1, $2)",
		types.RoleModerator,
		types.RoleAdmin,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mods []User
	for rows.Next() {
		var u User
		if err = rows.Scan(&u.Id, &u.Username, &u.EmailAddress, &u.Role); err != nil {
			return nil, err
		}
		mods = append(mods, u)
	}

	return mods, rows.Err()
}

func (db *PgAgoraRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res := tx.QueryRow(
		"INSERT INTO rooms (name, external_id, description, status, seq_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, 0, $5, $5) RETURNING id, name, external_id, description, status, created_at, updated_at",
		params.Name,
		params.ExternalId,
		params.Description,
		types.RoomPublic,
		time.Now().UTC(),
	)

	var room Room
	err = res.Scan(
		&room.Id,
		&room.Name,
		&room.ExternalId,
		&room.Description,
		&room.Status,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return Room{}, mapPqError(err)
	}

	// the creator becomes the room leader
	_, err = tx.Exec(
		"INSERT INTO room_users (user_id, room_id, role, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)",
		params.OwnerId,
		room.Id,
		types.RoomRoleLeader,
		time.Now().UTC(),
	)
	if err != nil {
		return Room{}, mapPqError(err)
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgAgoraRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, status, seq_id FROM rooms "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Description,
		&room.Status,
		&room.SeqId,
	)

	return room, err
}

func (db *PgAgoraRepository) GetRoomById(roomId int) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, status, seq_id FROM rooms "+
			"WHERE id = $1 LIMIT 1",
		roomId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Description,
		&room.Status,
		&room.SeqId,
	)

	return room, err
}

func (db *PgAgoraRepository) GetRoomWithMembers(roomId int) (*Room, error) {
	query := `
		SELECT
				r.id AS room_id,
				r.external_id,
				r.name AS room_name,
				r.description,
				r.status,
				r.seq_id,
				r.created_at AS room_created_at,
				r.updated_at AS room_updated_at,
				ru.id,
				ru.user_id,
				ru.role,
				a.username,
				a.reputation,
				ru.created_at AS membership_created_at
		FROM rooms r
		LEFT JOIN room_users ru ON r.id = ru.room_id
		LEFT JOIN accounts a ON ru.user_id = a.id
		WHERE r.id = $1;
`

	rows, err := db.conn.Query(query, roomId)
	if err != nil {
		return nil, fmt.Errorf("fetch room with members: %w", err)
	}
	defer rows.Close()

	var room *Room
	for rows.Next() {
		var (
			rId                 int
			externalId          string
			roomName            string
			description         string
			status              types.RoomStatus
			seqId               int
			roomCreatedAt       time.Time
			roomUpdatedAt       time.Time
			membershipId        sql.NullInt64
			userId              sql.NullInt64
			role                sql.NullString
			username            sql.NullString
			reputation          sql.NullInt64
			membershipCreatedAt sql.NullTime
		)

		err := rows.Scan(
			&rId,
			&externalId,
			&roomName,
			&description,
			&status,
			&seqId,
			&roomCreatedAt,
			&roomUpdatedAt,
			&membershipId,
			&userId,
			&role,
			&username,
			&reputation,
			&membershipCreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if room == nil {
			room = &Room{
				Id:          rId,
				ExternalId:  externalId,
				Name:        roomName,
				Description: description,
				Status:      status,
				SeqId:       seqId,
				CreatedAt:   roomCreatedAt,
				UpdatedAt:   roomUpdatedAt,
				Members:     make([]Membership, 0),
			}
		}

		if userId.Valid && username.Valid {
			room.Members = append(room.Members, Membership{
				Id:         int(membershipId.Int64),
				UserId:     int(userId.Int64),
				RoomId:     rId,
				Role:       types.RoomRole(role.String),
				Username:   username.String,
				Reputation: int(reputation.Int64),
				CreatedAt:  membershipCreatedAt.Time,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if room == nil {
		return nil, sql.ErrNoRows
	}

	return room, nil
}

func (db *PgAgoraRepository) UpdateRoomStatus(roomId int, status types.RoomStatus) error {
	_, err := db.conn.Exec(
		"UPDATE rooms SET status = $2, updated_at = $3 WHERE id = $1",
		roomId,
		status,
		time.Now().UTC(),
	)

	return err
}

func (db *PgAgoraRepository) UpdateRoomOnMessage(msg Message) error {
	_, err := db.conn.Exec("UPDATE rooms SET seq_id = $1 WHERE id = $2", msg.SeqId, msg.RoomId)

	return err
}

func (db *PgAgoraRepository) DeleteRoom(roomId int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, q := range []string{
		"DELETE FROM poll_votes WHERE poll_id IN (SELECT id FROM polls WHERE room_id = $1)",
		"DELETE FROM poll_options WHERE poll_id IN (SELECT id FROM polls WHERE room_id = $1)",
		"DELETE FROM polls WHERE room_id = $1",
		"DELETE FROM join_requests WHERE room_id = $1",
		"DELETE FROM room_users WHERE room_id = $1",
		"DELETE FROM messages WHERE room_id = $1",
		"DELETE FROM rooms WHERE id = $1",
	} {
		if _, err = tx.Exec(q, roomId); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (db *PgAgoraRepository) CreateMembership(userId, roomId int, role types.RoomRole) (Membership, error) {
	res := db.conn.QueryRow(
		createMembershipQuery,
		userId,
		roomId,
		role,
		time.Now().UTC(),
		time.Now().UTC(),
	)

	var m Membership
	err := res.Scan(
		&m.Id,
		&m.UserId,
		&m.RoomId,
		&m.Role,
	)

	return m, mapPqError(err)
}

func (db *PgAgoraRepository) GetMembership(userId, roomId int) (Membership, error) {
	row := db.conn.QueryRow(
		"SELECT ru.id, ru.user_id, ru.room_id, ru.role, a.username, a.reputation FROM room_users ru "+
			"JOIN accounts a ON ru.user_id = a.id WHERE ru.user_id = $1 AND ru.room_id = $2 LIMIT 1",
		userId,
		roomId,
	)

	var m Membership
	err := row.Scan(
		&m.Id,
		&m.UserId,
		&m.RoomId,
		&m.Role,
		&m.Username,
		&m.Reputation,
	)

	return m, err
}

func (db *PgAgoraRepository) DeleteMembership(userId, roomId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM room_users WHERE user_id = $1 AND room_id = $2",
		userId,
		roomId,
	)

	return err
}

func (db *PgAgoraRepository) UpdateMembershipRole(userId, roomId int, role types.RoomRole) error {
	res, err := db.conn.Exec(
		"UPDATE room_users SET role = $3, updated_at = $4 WHERE user_id = $1 AND room_id = $2",
		userId,
		roomId,
		role,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgAgoraRepository) CountMembers(roomId int) (int, error) {
	row := db.conn.QueryRow("SELECT COUNT(*) FROM room_users WHERE room_id = $1", roomId)

	var count int
	err := row.Scan(&count)

	return count, err
}

func (db *PgAgoraRepository) ListMembersByReputation(roomId, excludeUserId, limit int) ([]Membership, error) {
	rows, err := db.conn.Query(
		"SELECT ru.id, ru.user_id, ru.room_id, ru.role, a.username, a.reputation FROM room_users ru "+
			"JOIN accounts a ON ru.user_id = a.id "+
			"WHERE ru.room_id = $1 AND ru.user_id != $2 "+
			"ORDER BY a.reputation DESC, ru.user_id ASC LIMIT $3",
		roomId,
		excludeUserId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		if err = rows.Scan(&m.Id, &m.UserId, &m.RoomId, &m.Role, &m.Username, &m.Reputation); err != nil {
			return nil, err
		}
		members = append(members, m)
	}

	return members, rows.Err()
}

func (db *PgAgoraRepository) ListRoomsLedBy(userId int) ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT r.id, r.external_id, r.name, r.description, r.status, r.seq_id FROM room_users ru "+
			"JOIN rooms r ON r.id = ru.room_id WHERE ru.user_id = $1 AND ru.role = $2",
		userId,
		types.RoomRoleLeader,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err = rows.Scan(&room.Id, &room.ExternalId, &room.Name, &room.Description, &room.Status, &room.SeqId); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgAgoraRepository) ListRoomsForUser(userId int) ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT r.id, r.external_id, r.name, r.description, r.status, r.seq_id FROM room_users ru "+
			"JOIN rooms r ON r.id = ru.room_id WHERE ru.user_id = $1 ORDER BY r.name",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err = rows.Scan(&room.Id, &room.ExternalId, &room.Name, &room.Description, &room.Status, &room.SeqId); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgAgoraRepository) CreateMessage(msg Message) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (seq_id, room_id, user_id, content, is_system, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $6)",
		msg.SeqId,
		msg.RoomId,
		msg.UserId,
		msg.Content,
		msg.System,
		msg.CreatedAt,
	)

	return err
}

func (db *PgAgoraRepository) GetMessages(roomId, since, before, limit int) ([]Message, error) {
	var upper, lower int = 1<<31 - 1, 0
	if before > 0 {
		upper = before - 1
	}

	if since > 0 {
		lower = since
	}

	if limit <= 0 {
		limit = 20
	}

	rows, err := db.conn.Query(
		"SELECT id, seq_id, room_id, user_id, content, is_system, created_at FROM messages "+
			"WHERE room_id = $1 AND seq_id BETWEEN $2 AND $3 ORDER BY seq_id DESC LIMIT $4",
		roomId,
		lower,
		upper,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(&msg.Id, &msg.SeqId, &msg.RoomId, &msg.UserId, &msg.Content, &msg.System, &msg.CreatedAt); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (db *PgAgoraRepository) GetJoinRequest(id int) (JoinRequest, error) {
	row := db.conn.QueryRow(
		"SELECT "+selectJoinRequestCols+" FROM join_requests WHERE id = $1 LIMIT 1",
		id,
	)

	return scanJoinRequest(row)
}

func (db *PgAgoraRepository) GetActiveJoinRequest(userId, roomId int) (JoinRequest, error) {
	row := db.conn.QueryRow(
		"SELECT "+selectJoinRequestCols+" FROM join_requests "+
			"WHERE user_id = $1 AND room_id = $2 AND status IN ($3, $4) "+
			"ORDER BY created_at DESC LIMIT 1",
		userId,
		roomId,
		types.JoinRequestPending,
		types.JoinRequestApproved,
	)

	return scanJoinRequest(row)
}

// ReplaceJoinRequest deletes any prior requests for the (user, room) pair
// and inserts a fresh pending one in a single transaction. A partial
// unique index on pending requests rejects a concurrent duplicate.
func (db *PgAgoraRepository) ReplaceJoinRequest(params CreateJoinRequestParams) (JoinRequest, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return JoinRequest{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"DELETE FROM join_requests WHERE user_id = $1 AND room_id = $2",
		params.UserId,
		params.RoomId,
	)
	if err != nil {
		return JoinRequest{}, err
	}

	row := tx.QueryRow(
		"INSERT INTO join_requests (room_id, user_id, message, status, expires_at, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING "+selectJoinRequestCols,
		params.RoomId,
		params.UserId,
		params.Message,
		types.JoinRequestPending,
		params.ExpiresAt,
		time.Now().UTC(),
	)

	var req JoinRequest
	req, err = scanJoinRequest(row)
	if err != nil {
		return JoinRequest{}, mapPqError(err)
	}

	if err = tx.Commit(); err != nil {
		return JoinRequest{}, err
	}

	return req, nil
}

func (db *PgAgoraRepository) DeleteJoinRequest(id int) error {
	_, err := db.conn.Exec("DELETE FROM join_requests WHERE id = $1", id)

	return err
}

// UpdateJoinRequestStatus transitions a request out of pending. The WHERE
// guard makes approve/reject of an already-processed request fail with
// ErrNotActive instead of silently re-applying side effects.
func (db *PgAgoraRepository) UpdateJoinRequestStatus(id int, status types.JoinRequestStatus, approverId int, reason string) (JoinRequest, error) {
	row := db.conn.QueryRow(
		"UPDATE join_requests SET status = $2, approver_id = $3, reason = $4, updated_at = $5 "+
			"WHERE id = $1 AND status = $6 RETURNING "+selectJoinRequestCols,
		id,
		status,
		approverId,
		reason,
		time.Now().UTC(),
		types.JoinRequestPending,
	)

	req, err := scanJoinRequest(row)
	if err == sql.ErrNoRows {
		return JoinRequest{}, ErrNotActive
	}

	return req, err
}

func (db *PgAgoraRepository) ListJoinRequestsByRoom(roomId int) ([]JoinRequest, error) {
	rows, err := db.conn.Query(
		"SELECT "+selectJoinRequestCols+" FROM join_requests WHERE room_id = $1 ORDER BY created_at DESC",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []JoinRequest
	for rows.Next() {
		var req JoinRequest
		if err = rows.Scan(&req.Id, &req.RoomId, &req.UserId, &req.Message, &req.Status, &req.ApproverId, &req.Reason, &req.ExpiresAt, &req.CreatedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	return reqs, rows.Err()
}

// ExpirePendingJoinRequests flips every overdue pending request to
// expired and returns the rows it changed. Re-running the sweep finds
// nothing left in pending, so it is idempotent.
func (db *PgAgoraRepository) ExpirePendingJoinRequests(now time.Time) ([]JoinRequest, error) {
	rows, err := db.conn.Query(
		"UPDATE join_requests SET status = $1, updated_at = $2 "+
			"WHERE status = $3 AND expires_at < $2 RETURNING "+selectJoinRequestCols,
		types.JoinRequestExpired,
		now.UTC(),
		types.JoinRequestPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []JoinRequest
	for rows.Next() {
		var req JoinRequest
		if err = rows.Scan(&req.Id, &req.RoomId, &req.UserId, &req.Message, &req.Status, &req.ApproverId, &req.Reason, &req.ExpiresAt, &req.CreatedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	return reqs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJoinRequest(row rowScanner) (JoinRequest, error) {
	var req JoinRequest
	err := row.Scan(
		&req.Id,
		&req.RoomId,
		&req.UserId,
		&req.Message,
		&req.Status,
		&req.ApproverId,
		&req.Reason,
		&req.ExpiresAt,
		&req.CreatedAt,
	)

	return req, err
}

func (db *PgAgoraRepository) CreatePoll(params CreatePollParams) (Poll, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Poll{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var expiresAt sql.NullTime
	if !params.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: params.ExpiresAt.UTC(), Valid: true}
	}

	var punishUserId, punishLevel, punishIssuerId sql.NullInt64
	var punishReason sql.NullString
	if params.Punishment != nil {
		punishUserId = sql.NullInt64{Int64: int64(params.Punishment.TargetUserId), Valid: true}
		punishLevel = sql.NullInt64{Int64: int64(params.Punishment.Level), Valid: true}
		punishIssuerId = sql.NullInt64{Int64: int64(params.Punishment.IssuerId), Valid: true}
		punishReason = sql.NullString{String: params.Punishment.Reason, Valid: true}
	}

	row := tx.QueryRow(
		"INSERT INTO polls (room_id, creator_id, question, status, is_election, expires_at, "+
			"punish_user_id, punish_level, punish_reason, punish_issuer_id, punish_applied, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, $11, $11) "+
			"RETURNING id, room_id, creator_id, question, status, is_election, COALESCE(expires_at, 'epoch'::timestamptz), created_at",
		params.RoomId,
		params.CreatorId,
		params.Question,
		types.PollActive,
		params.Election,
		expiresAt,
		punishUserId,
		punishLevel,
		punishReason,
		punishIssuerId,
		time.Now().UTC(),
	)

	var poll Poll
	err = row.Scan(
		&poll.Id,
		&poll.RoomId,
		&poll.CreatorId,
		&poll.Question,
		&poll.Status,
		&poll.Election,
		&poll.ExpiresAt,
		&poll.CreatedAt,
	)
	if err != nil {
		return Poll{}, err
	}

	for i, opt := range params.Options {
		var candidateId sql.NullInt64
		if opt.CandidateId != 0 {
			candidateId = sql.NullInt64{Int64: int64(opt.CandidateId), Valid: true}
		}

		_, err = tx.Exec(
			"INSERT INTO poll_options (poll_id, idx, text, candidate_id, votes) VALUES ($1, $2, $3, $4, 0)",
			poll.Id,
			i,
			opt.Text,
			candidateId,
		)
		if err != nil {
			return Poll{}, err
		}

		poll.Options = append(poll.Options, PollOption{
			PollId:      poll.Id,
			Idx:         i,
			Text:        opt.Text,
			CandidateId: opt.CandidateId,
		})
	}

	if params.Punishment != nil {
		p := *params.Punishment
		p.Applied = false
		poll.Punishment = &p
	}

	if err = tx.Commit(); err != nil {
		return Poll{}, err
	}

	return poll, nil
}

func (db *PgAgoraRepository) GetPoll(id int) (Poll, error) {
	row := db.conn.QueryRow(
		"SELECT id, room_id, creator_id, question, status, is_election, COALESCE(expires_at, 'epoch'::timestamptz), created_at, "+
			"punish_user_id, punish_level, punish_reason, punish_issuer_id, punish_applied "+
			"FROM polls WHERE id = $1 LIMIT 1",
		id,
	)

	poll, err := scanPoll(row)
	if err != nil {
		return Poll{}, err
	}

	poll.Options, err = db.getPollOptions(poll.Id)

	return poll, err
}

func (db *PgAgoraRepository) ListPollsByRoom(roomId int) ([]Poll, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, creator_id, question, status, is_election, COALESCE(expires_at, 'epoch'::timestamptz), created_at, "+
			"punish_user_id, punish_level, punish_reason, punish_issuer_id, punish_applied "+
			"FROM polls WHERE room_id = $1 ORDER BY created_at DESC",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var polls []Poll
	for rows.Next() {
		poll, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, poll)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range polls {
		if polls[i].Options, err = db.getPollOptions(polls[i].Id); err != nil {
			return nil, err
		}
	}

	return polls, nil
}

func (db *PgAgoraRepository) getPollOptions(pollId int) ([]PollOption, error) {
	rows, err := db.conn.Query(
		"SELECT id, poll_id, idx, text, COALESCE(candidate_id, 0), votes FROM poll_options "+
			"WHERE poll_id = $1 ORDER BY idx ASC",
		pollId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opts []PollOption
	for rows.Next() {
		var opt PollOption
		if err = rows.Scan(&opt.Id, &opt.PollId, &opt.Idx, &opt.Text, &opt.CandidateId, &opt.Votes); err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}

	return opts, rows.Err()
}

func scanPoll(row rowScanner) (Poll, error) {
	var (
		poll           Poll
		punishUserId   sql.NullInt64
		punishLevel    sql.NullInt64
		punishReason   sql.NullString
		punishIssuerId sql.NullInt64
		punishApplied  sql.NullBool
	)

	err := row.Scan(
		&poll.Id,
		&poll.RoomId,
		&poll.CreatorId,
		&poll.Question,
		&poll.Status,
		&poll.Election,
		&poll.ExpiresAt,
		&poll.CreatedAt,
		&punishUserId,
		&punishLevel,
		&punishReason,
		&punishIssuerId,
		&punishApplied,
	)
	if err != nil {
		return Poll{}, err
	}

	if punishUserId.Valid {
		poll.Punishment = &Punishment{
			TargetUserId: int(punishUserId.Int64),
			Level:        int(punishLevel.Int64),
			Reason:       punishReason.String,
			IssuerId:     int(punishIssuerId.Int64),
			Applied:      punishApplied.Bool,
		}
	}

	return poll, nil
}

func (db *PgAgoraRepository) GetVote(pollId, userId int) (Vote, error) {
	row := db.conn.QueryRow(
		"SELECT poll_id, user_id, option_index, created_at FROM poll_votes "+
			"WHERE poll_id = $1 AND user_id = $2 LIMIT 1",
		pollId,
		userId,
	)

	var v Vote
	err := row.Scan(&v.PollId, &v.UserId, &v.OptionIndex, &v.CreatedAt)

	return v, err
}

// CastVote records a first vote. The poll-status guard and the tally
// increment run in one transaction so a vote can never land on a poll
// that closed mid-flight.
func (db *PgAgoraRepository) CastVote(pollId, userId, optionIndex int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var res sql.Result
	res, err = tx.Exec(
		"UPDATE polls SET updated_at = $2 WHERE id = $1 AND status = $3",
		pollId,
		time.Now().UTC(),
		types.PollActive,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrNotActive
		return err
	}

	_, err = tx.Exec(
		"INSERT INTO poll_votes (poll_id, user_id, option_index, created_at) VALUES ($1, $2, $3, $4)",
		pollId,
		userId,
		optionIndex,
		time.Now().UTC(),
	)
	if err != nil {
		err = mapPqError(err)
		return err
	}

	_, err = tx.Exec(
		"UPDATE poll_options SET votes = votes + 1 WHERE poll_id = $1 AND idx = $2",
		pollId,
		optionIndex,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ChangeVote moves an existing vote between options as one unit:
// decrement old tally, repoint the vote row, increment new tally. The
// conditional vote-row update rejects a racing change from the same user.
func (db *PgAgoraRepository) ChangeVote(pollId, userId, oldIndex, newIndex int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var res sql.Result
	res, err = tx.Exec(
		"UPDATE polls SET updated_at = $2 WHERE id = $1 AND status = $3",
		pollId,
		time.Now().UTC(),
		types.PollActive,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrNotActive
		return err
	}

	res, err = tx.Exec(
		"UPDATE poll_votes SET option_index = $4, created_at = $5 "+
			"WHERE poll_id = $1 AND user_id = $2 AND option_index = $3",
		pollId,
		userId,
		oldIndex,
		newIndex,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = ErrStaleVote
		return err
	}

	_, err = tx.Exec(
		"UPDATE poll_options SET votes = votes - 1 WHERE poll_id = $1 AND idx = $2",
		pollId,
		oldIndex,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(
		"UPDATE poll_options SET votes = votes + 1 WHERE poll_id = $1 AND idx = $2",
		pollId,
		newIndex,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ClosePoll freezes the poll. The status guard makes a second close fail
// with ErrNotActive rather than re-running close side effects.
func (db *PgAgoraRepository) ClosePoll(pollId int) (Poll, error) {
	res, err := db.conn.Exec(
		"UPDATE polls SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4",
		pollId,
		types.PollClosed,
		time.Now().UTC(),
		types.PollActive,
	)
	if err != nil {
		return Poll{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Poll{}, ErrNotActive
	}

	return db.GetPoll(pollId)
}

// MarkPunishmentApplied flips the applied flag exactly once. The
// returned bool reports whether this call actually consumed the payload.
func (db *PgAgoraRepository) MarkPunishmentApplied(pollId int) (bool, error) {
	res, err := db.conn.Exec(
		"UPDATE polls SET punish_applied = TRUE, updated_at = $2 "+
			"WHERE id = $1 AND punish_user_id IS NOT NULL AND punish_applied = FALSE",
		pollId,
		time.Now().UTC(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (db *PgAgoraRepository) ListExpiredActivePolls(now time.Time) ([]Poll, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, creator_id, question, status, is_election, COALESCE(expires_at, 'epoch'::timestamptz), created_at, "+
			"punish_user_id, punish_level, punish_reason, punish_issuer_id, punish_applied "+
			"FROM polls WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2",
		types.PollActive,
		now.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var polls []Poll
	for rows.Next() {
		poll, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, poll)
	}

	return polls, rows.Err()
}

func (db *PgAgoraRepository) CreateNotification(params CreateNotificationParams) (Notification, error) {
	row := db.conn.QueryRow(
		"INSERT INTO notifications (user_id, kind, title, content, metadata, is_read, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, FALSE, $6) RETURNING id, user_id, kind, title, content, metadata, is_read, created_at",
		params.UserId,
		params.Kind,
		params.Title,
		params.Content,
		params.Metadata,
		time.Now().UTC(),
	)

	var n Notification
	err := row.Scan(&n.Id, &n.UserId, &n.Kind, &n.Title, &n.Content, &n.Metadata, &n.Read, &n.CreatedAt)

	return n, err
}

func (db *PgAgoraRepository) ListNotifications(userId int) ([]Notification, error) {
	rows, err := db.conn.Query(
		"SELECT id, user_id, kind, title, content, metadata, is_read, created_at FROM notifications "+
			"WHERE user_id = $1 ORDER BY created_at DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifs []Notification
	for rows.Next() {
		var n Notification
		if err = rows.Scan(&n.Id, &n.UserId, &n.Kind, &n.Title, &n.Content, &n.Metadata, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}

	return notifs, rows.Err()
}

func (db *PgAgoraRepository) MarkNotificationRead(id, userId int) error {
	res, err := db.conn.Exec(
		"UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2",
		id,
		userId,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgAgoraRepository) CreateWarning(userId int, reason string, issuerId int) (Warning, error) {
	row := db.conn.QueryRow(
		"INSERT INTO warnings (user_id, reason, issuer_id, created_at) VALUES ($1, $2, $3, $4) "+
			"RETURNING id, user_id, reason, issuer_id, created_at",
		userId,
		reason,
		issuerId,
		time.Now().UTC(),
	)

	var w Warning
	err := row.Scan(&w.Id, &w.UserId, &w.Reason, &w.IssuerId, &w.CreatedAt)

	return w, err
}
