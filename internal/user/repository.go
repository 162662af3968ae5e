package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"chat-server/internal/chat"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const uniqueViolation = "23505"

func (r *Repository) Create(ctx context.Context, u *User) error {
	query := `INSERT INTO users (id, username, email, password)
	          VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, u.ID, u.Username, u.Email, u.Password)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("username or email taken: %w", chat.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *Repository) ByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, username, email, password FROM users WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) ByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT id, username, email, password FROM users WHERE username = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, username))
}

// Resolve looks a user up by opaque id or username. The id form is
// detectable (uuid), so it is tried first with a username fallback.
func (r *Repository) Resolve(ctx context.Context, identifier string) (*User, error) {
	if identifier == "" {
		return nil, fmt.Errorf("empty identifier: %w", chat.ErrNotFound)
	}
	if _, err := uuid.Parse(identifier); err == nil {
		return r.ByID(ctx, identifier)
	}
	return r.ByUsername(ctx, identifier)
}

// Search returns users whose username contains term, case-insensitively,
// ordered by username, with the requester excluded.
func (r *Repository) Search(ctx context.Context, selfID, term string) ([]User, error) {
	query := `SELECT id, username, email FROM users
	          WHERE username ILIKE $1 AND id != $2
	          ORDER BY username
	          LIMIT 20`
	rows, err := r.db.QueryContext(ctx, query, "%"+term+"%", selfID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ByUsernames fetches the given usernames. Callers compare the result
// length against the request to get all-or-nothing resolution.
func (r *Repository) ByUsernames(ctx context.Context, names []string) ([]User, error) {
	if len(names) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = name
	}
	query := fmt.Sprintf(
		`SELECT id, username, email FROM users WHERE username IN (%s)`,
		strings.Join(placeholders, ", "),
	)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *Repository) scanOne(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", chat.ErrNotFound)
		}
		return nil, err
	}
	return u, nil
}
