package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Repository is the durable Membership Store. It is the single source of
// truth for who belongs to what; the presence registries are caches that
// reconverge to it on connect and after every mutation.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const uniqueViolation = "23505"

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// RoomByID loads a non-deleted room with its member and admin sets.
func (r *Repository) RoomByID(ctx context.Context, id string) (*Room, error) {
	return r.roomByID(ctx, r.db, id, "")
}

func (r *Repository) roomByID(ctx context.Context, q querier, id, suffix string) (*Room, error) {
	if !validID(id) {
		return nil, fmt.Errorf("invalid room id: %w", ErrNotFound)
	}

	query := `
		SELECT r.id, r.name, cu.username, r.created_at, r.updated_at,
		       m.id, m.sender, m.text, m.sent_at
		FROM rooms r
		JOIN users cu ON cu.id = r.creator_id
		LEFT JOIN messages m ON m.id = r.last_message_id
		WHERE r.id = $1 AND NOT r.is_deleted` + suffix

	room := &Room{}
	var lastID, lastSender, lastText sql.NullString
	var lastWhen sql.NullTime
	err := q.QueryRowContext(ctx, query, id).Scan(
		&room.ID, &room.Name, &room.Creator, &room.CreatedAt, &room.UpdatedAt,
		&lastID, &lastSender, &lastText, &lastWhen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("invalid room id: %w", ErrNotFound)
		}
		return nil, err
	}
	if lastID.Valid {
		room.LastMessage = &Message{
			ID:     lastID.String,
			Sender: lastSender.String,
			Text:   lastText.String,
			When:   lastWhen.Time,
		}
	}

	if room.Members, err = r.roomSet(ctx, q, "room_members", id); err != nil {
		return nil, err
	}
	if room.Admins, err = r.roomSet(ctx, q, "room_admins", id); err != nil {
		return nil, err
	}
	return room, nil
}

func (r *Repository) roomSet(ctx context.Context, q querier, table, roomID string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT u.username FROM %s t
		JOIN users u ON u.id = t.user_id
		WHERE t.room_id = $1
		ORDER BY u.username`, table)

	rows, err := q.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ChatByID loads a non-deleted chat.
func (r *Repository) ChatByID(ctx context.Context, id string) (*Chat, error) {
	if !validID(id) {
		return nil, fmt.Errorf("invalid chat id: %w", ErrNotFound)
	}

	query := `
		SELECT c.id, u1.username, u2.username, c.created_at, c.updated_at,
		       m.id, m.sender, m.text, m.sent_at
		FROM chats c
		JOIN users u1 ON u1.id = c.user1_id
		JOIN users u2 ON u2.id = c.user2_id
		LEFT JOIN messages m ON m.id = c.last_message_id
		WHERE c.id = $1 AND NOT c.is_deleted`

	return r.scanChat(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) scanChat(row *sql.Row) (*Chat, error) {
	c := &Chat{}
	var lastID, lastSender, lastText sql.NullString
	var lastWhen sql.NullTime
	err := row.Scan(
		&c.ID, &c.User1, &c.User2, &c.CreatedAt, &c.UpdatedAt,
		&lastID, &lastSender, &lastText, &lastWhen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("invalid chat id: %w", ErrNotFound)
		}
		return nil, err
	}
	if lastID.Valid {
		c.LastMessage = &Message{
			ID:     lastID.String,
			Sender: lastSender.String,
			Text:   lastText.String,
			When:   lastWhen.Time,
		}
	}
	return c, nil
}

// ChannelByID resolves a room or chat by id and kind tag.
func (r *Repository) ChannelByID(ctx context.Context, id, kind string) (Channel, error) {
	switch kind {
	case KindRoom:
		return r.RoomByID(ctx, id)
	case KindChat:
		return r.ChatByID(ctx, id)
	default:
		return nil, fmt.Errorf("invalid chat type %q: %w", kind, ErrInvalidPayload)
	}
}

// ChatBetween finds the live chat for an unordered user pair.
func (r *Repository) ChatBetween(ctx context.Context, userA, userB string) (*Chat, error) {
	query := `
		SELECT c.id, u1.username, u2.username, c.created_at, c.updated_at,
		       m.id, m.sender, m.text, m.sent_at
		FROM chats c
		JOIN users u1 ON u1.id = c.user1_id
		JOIN users u2 ON u2.id = c.user2_id
		LEFT JOIN messages m ON m.id = c.last_message_id
		WHERE NOT c.is_deleted
		  AND ((u1.username = $1 AND u2.username = $2)
		    OR (u1.username = $2 AND u2.username = $1))`

	return r.scanChat(r.db.QueryRowContext(ctx, query, userA, userB))
}

// UserChannels computes the full set of non-deleted rooms and chats a user
// belongs to, sorted by last activity. This backs the connect-time
// subscription reconciliation and get_user_chats; it is O(the user's
// channels), not O(all rooms).
func (r *Repository) UserChannels(ctx context.Context, username string) ([]Summary, error) {
	var rooms, chats []Summary

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rooms, err = r.userRooms(gctx, username)
		return err
	})
	g.Go(func() error {
		var err error
		chats, err = r.userChats(gctx, username)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := append(rooms, chats...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].UpdatedAt.Before(all[j].UpdatedAt)
	})
	return all, nil
}

func (r *Repository) userRooms(ctx context.Context, username string) ([]Summary, error) {
	query := `
		SELECT r.id, r.name, r.created_at, r.updated_at,
		       m.id, m.sender, m.text, m.sent_at
		FROM rooms r
		JOIN room_members rm ON rm.room_id = r.id
		JOIN users u ON u.id = rm.user_id
		LEFT JOIN messages m ON m.id = r.last_message_id
		WHERE u.username = $1 AND NOT r.is_deleted`

	rows, err := r.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []Summary
	for rows.Next() {
		s := Summary{Type: KindRoom}
		var lastID, lastSender, lastText sql.NullString
		var lastWhen sql.NullTime
		err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt, &s.UpdatedAt,
			&lastID, &lastSender, &lastText, &lastWhen)
		if err != nil {
			return nil, err
		}
		if lastID.Valid {
			s.LastMessage = &Message{
				ID:     lastID.String,
				Sender: lastSender.String,
				Text:   lastText.String,
				When:   lastWhen.Time,
			}
		}
		sums = append(sums, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sums {
		if sums[i].Members, err = r.roomSet(ctx, r.db, "room_members", sums[i].ID); err != nil {
			return nil, err
		}
	}
	return sums, nil
}

func (r *Repository) userChats(ctx context.Context, username string) ([]Summary, error) {
	query := `
		SELECT c.id, u1.username, u2.username, c.created_at, c.updated_at,
		       m.id, m.sender, m.text, m.sent_at
		FROM chats c
		JOIN users u1 ON u1.id = c.user1_id
		JOIN users u2 ON u2.id = c.user2_id
		LEFT JOIN messages m ON m.id = c.last_message_id
		WHERE NOT c.is_deleted AND (u1.username = $1 OR u2.username = $1)`

	rows, err := r.db.QueryContext(ctx, query, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []Summary
	for rows.Next() {
		s := Summary{Type: KindChat}
		var u1, u2 string
		var lastID, lastSender, lastText sql.NullString
		var lastWhen sql.NullTime
		err := rows.Scan(&s.ID, &u1, &u2, &s.CreatedAt, &s.UpdatedAt,
			&lastID, &lastSender, &lastText, &lastWhen)
		if err != nil {
			return nil, err
		}
		s.Members = []string{u1, u2}
		if lastID.Valid {
			s.LastMessage = &Message{
				ID:     lastID.String,
				Sender: lastSender.String,
				Text:   lastText.String,
				When:   lastWhen.Time,
			}
		}
		sums = append(sums, s)
	}
	return sums, rows.Err()
}

// Messages returns a channel's full message log in arrival order.
func (r *Repository) Messages(ctx context.Context, channelID string) ([]Message, error) {
	query := `
		SELECT id, sender, text, sent_at
		FROM messages
		WHERE channel_id = $1
		ORDER BY seq`

	rows, err := r.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &m.When); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendMessage appends to the channel's log and moves the last_message
// pointer in one transaction. Concurrent appends to the same channel never
// conflict on the insert; last_message is whichever append commits last.
func (r *Repository) AppendMessage(ctx context.Context, channelID, kind string, msg Message) (*Message, error) {
	table := "rooms"
	if kind == KindChat {
		table = "chats"
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	insert := `INSERT INTO messages (id, channel_id, sender, text, sent_at)
	           VALUES ($1, $2, $3, $4, $5)
	           RETURNING sent_at`
	err = tx.QueryRowContext(ctx, insert,
		msg.ID, channelID, msg.Sender, msg.Text, msg.When).Scan(&msg.When)
	if err != nil {
		return nil, err
	}

	update := fmt.Sprintf(`UPDATE %s SET last_message_id = $1, updated_at = NOW()
	                       WHERE id = $2 AND NOT is_deleted`, table)
	res, err := tx.ExecContext(ctx, update, msg.ID, channelID)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("invalid chat or room id: %w", ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateRoom inserts the room with its member and admin sets in one
// transaction; nothing is visible to other users until it commits.
func (r *Repository) CreateRoom(ctx context.Context, room *Room) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert := `INSERT INTO rooms (id, name, creator_id)
	           VALUES ($1, $2, (SELECT id FROM users WHERE username = $3))
	           RETURNING created_at, updated_at`
	err = tx.QueryRowContext(ctx, insert, room.ID, room.Name, room.Creator).
		Scan(&room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return err
	}

	if err := addRoomSet(ctx, tx, "room_members", room.ID, room.Members); err != nil {
		return err
	}
	if err := addRoomSet(ctx, tx, "room_admins", room.ID, room.Admins); err != nil {
		return err
	}
	return tx.Commit()
}

func addRoomSet(ctx context.Context, q querier, table, roomID string, usernames []string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (room_id, user_id)
		SELECT $1, id FROM users WHERE username = $2
		ON CONFLICT DO NOTHING`, table)
	for _, name := range usernames {
		if _, err := q.ExecContext(ctx, query, roomID, name); err != nil {
			return err
		}
	}
	return nil
}

func removeRoomSet(ctx context.Context, q querier, table, roomID string, usernames []string) error {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE room_id = $1 AND user_id = (SELECT id FROM users WHERE username = $2)`, table)
	for _, name := range usernames {
		if _, err := q.ExecContext(ctx, query, roomID, name); err != nil {
			return err
		}
	}
	return nil
}

// CreateChat inserts the chat and its first message atomically. The partial
// unique index on the user pair turns a create/create race into ErrConflict.
func (r *Repository) CreateChat(ctx context.Context, c *Chat, first Message) (*Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	insert := `INSERT INTO chats (id, user1_id, user2_id)
	           VALUES ($1,
	                   (SELECT id FROM users WHERE username = $2),
	                   (SELECT id FROM users WHERE username = $3))
	           RETURNING created_at, updated_at`
	err = tx.QueryRowContext(ctx, insert, c.ID, c.User1, c.User2).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("chat already exists: %w", ErrConflict)
		}
		return nil, err
	}

	if first.ID == "" {
		first.ID = uuid.NewString()
	}
	msgInsert := `INSERT INTO messages (id, channel_id, sender, text, sent_at)
	              VALUES ($1, $2, $3, $4, $5)
	              RETURNING sent_at`
	err = tx.QueryRowContext(ctx, msgInsert,
		first.ID, c.ID, first.Sender, first.Text, first.When).Scan(&first.When)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE chats SET last_message_id = $1 WHERE id = $2`, first.ID, c.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	c.LastMessage = &first
	return &first, nil
}

// UpdateRoom runs a mutation against the room's current durable state. The
// row is locked FOR UPDATE for the duration, so invariant checks inside
// mutate are validated against what is actually committed, and conflicting
// mutations on the same room are serialized rather than lost. mutate may
// edit Name, Members, Admins and IsDeleted; the diff is persisted.
func (r *Repository) UpdateRoom(ctx context.Context, roomID string, mutate func(*Room) error) (*Room, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	room, err := r.roomByID(ctx, tx, roomID, " FOR UPDATE OF r")
	if err != nil {
		return nil, err
	}

	origName := room.Name
	origMembers := lo.Union(room.Members) // copies
	origAdmins := lo.Union(room.Admins)

	if err := mutate(room); err != nil {
		return nil, err
	}

	addedMembers, removedMembers := lo.Difference(room.Members, origMembers)
	if err := addRoomSet(ctx, tx, "room_members", roomID, addedMembers); err != nil {
		return nil, err
	}
	if err := removeRoomSet(ctx, tx, "room_members", roomID, removedMembers); err != nil {
		return nil, err
	}

	addedAdmins, removedAdmins := lo.Difference(room.Admins, origAdmins)
	if err := addRoomSet(ctx, tx, "room_admins", roomID, addedAdmins); err != nil {
		return nil, err
	}
	if err := removeRoomSet(ctx, tx, "room_admins", roomID, removedAdmins); err != nil {
		return nil, err
	}

	if room.Name != origName {
		if _, err := tx.ExecContext(ctx,
			`UPDATE rooms SET name = $1 WHERE id = $2`, room.Name, roomID); err != nil {
			return nil, err
		}
	}
	if room.IsDeleted {
		if _, err := tx.ExecContext(ctx,
			`UPDATE rooms SET is_deleted = TRUE WHERE id = $1`, roomID); err != nil {
			return nil, err
		}
	}

	err = tx.QueryRowContext(ctx,
		`UPDATE rooms SET updated_at = NOW() WHERE id = $1 RETURNING updated_at`,
		roomID).Scan(&room.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return room, nil
}
