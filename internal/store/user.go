package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/flockchat/users-api/types"
)

// ListFilter narrows the result of UserRepository.List. Nil fields leave
// the corresponding predicate out of the query.
type ListFilter struct {
	// Online restricts the listing to users whose presence flag matches.
	Online *bool

	// UpdatedSince restricts the listing to users whose updated_at is at
	// or after the given epoch second.
	UpdatedSince *int64
}

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (types.User, error) {
	const query = `
		SELECT id, nickname, password_hash, created_at, updated_at, last_active_at, online
		FROM users
		WHERE id = $1`
	var user types.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Nickname,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastActiveAt,
		&user.Online,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByNickname(ctx context.Context, nickname string) (types.User, error) {
	const query = `
		SELECT id, nickname, password_hash, created_at, updated_at, last_active_at, online
		FROM users
		WHERE nickname = $1`
	var user types.User
	err := r.db.QueryRowContext(ctx, query, nickname).Scan(
		&user.ID,
		&user.Nickname,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastActiveAt,
		&user.Online,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// List returns users matching filter, ordered by updated_at and then
// nickname so that pollers can resume from the last timestamp they saw.
func (r *UserRepository) List(ctx context.Context, filter ListFilter) ([]types.User, error) {
	query := `
		SELECT id, nickname, password_hash, created_at, updated_at, last_active_at, online
		FROM users`

	var conds []string
	var args []any
	if filter.Online != nil {
		args = append(args, *filter.Online)
		conds = append(conds, fmt.Sprintf("online = $%d", len(args)))
	}
	if filter.UpdatedSince != nil {
		args = append(args, *filter.UpdatedSince)
		conds = append(conds, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	query += "\n\t\tORDER BY updated_at ASC, nickname ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		var user types.User
		if err := rows.Scan(
			&user.ID,
			&user.Nickname,
			&user.PasswordHash,
			&user.CreatedAt,
			&user.UpdatedAt,
			&user.LastActiveAt,
			&user.Online,
		); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		INSERT INTO users (nickname, password_hash, created_at, updated_at, last_active_at, online)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Nickname,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
		user.LastActiveAt,
		user.Online,
	).Scan(&user.ID); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	return user, nil
}

// UpdateProfile applies a partial update in a single statement. Nil fields
// keep their stored value, so concurrent updates to different fields
// cannot clobber each other.
func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, nickname, passwordHash *string, now int64) error {
	const query = `
		UPDATE users
		SET nickname = COALESCE($2, nickname),
			password_hash = COALESCE($3, password_hash),
			updated_at = $4
		WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, nickname, passwordHash, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch marks the user online and records activity at the given epoch
// second. One statement, so a concurrent sweep can never interleave
// between the read and the write.
func (r *UserRepository) Touch(ctx context.Context, id int64, now int64) error {
	const query = `
		UPDATE users
		SET online = TRUE,
			last_active_at = $2,
			updated_at = $2
		WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DemoteStale flips every online user whose last activity predates cutoff
// to offline, stamping updated_at with now. It returns the number of
// users demoted.
func (r *UserRepository) DemoteStale(ctx context.Context, cutoff, now int64) (int64, error) {
	const query = `
		UPDATE users
		SET online = FALSE,
			updated_at = $2
		WHERE online = TRUE AND last_active_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
