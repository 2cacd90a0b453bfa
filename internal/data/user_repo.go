package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nwatch/neighborwatch/internal/data/pgxutil"
	domainauth "github.com/nwatch/neighborwatch/internal/domain/auth"
	"github.com/nwatch/neighborwatch/internal/domain/model"
	"github.com/nwatch/neighborwatch/internal/ports"
)

const userColumns = "uid, email, role, approved, created_at, updated_at"

// UserRepo provides database operations for user authorization records.
type UserRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewUserRepo creates a new UserRepo with real time provider.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewUserRepoWithTimeProvider creates a new UserRepo with a custom time provider (useful for tests).
func NewUserRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *UserRepo {
	return &UserRepo{DB: db, timeProvider: tp}
}

// Create inserts a new user record. A duplicate uid yields ErrUserExists.
func (r *UserRepo) Create(ctx context.Context, req *model.CreateUserRequest) (*model.User, error) {
	if req == nil {
		return nil, errors.New("create user request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := r.timeProvider.Now().UTC()
	q := `INSERT INTO users (uid, email, role, approved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING ` + userColumns

	user, err := r.queryOne(ctx, q, req.UID, req.Email, string(req.Role), req.Approved, now)
	if err != nil {
		return nil, r.mapWriteErr(err)
	}
	return user, nil
}

// GetByUID returns the user with the given uid or ErrUserNotFound.
func (r *UserRepo) GetByUID(ctx context.Context, uid string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE uid = $1`
	user, err := r.queryOne(ctx, q, strings.TrimSpace(uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// GetRecord returns the authorization record for uid, reporting a missing
// row as ports.ErrRecordNotFound.
func (r *UserRepo) GetRecord(ctx context.Context, uid string) (domainauth.AuthorizationRecord, error) {
	user, err := r.GetByUID(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return domainauth.AuthorizationRecord{}, ports.ErrRecordNotFound
		}
		return domainauth.AuthorizationRecord{}, err
	}
	return user.Record(), nil
}

// List returns users ordered by creation time, newest first.
func (r *UserRepo) List(ctx context.Context, opts model.UsersListOptions) ([]*model.User, error) {
	opts.Normalize()

	var (
		where []string
		args  []any
	)
	if opts.Role != nil {
		args = append(args, string(*opts.Role))
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if opts.Approved != nil {
		args = append(args, *opts.Approved)
		where = append(where, fmt.Sprintf("approved = $%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + userColumns + " FROM users")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, opts.Limit, opts.Offset)
	fmt.Fprintf(&sb, " ORDER BY created_at DESC, uid ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var out []*model.User
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, sb.String(), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.User])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

// SetApproval updates the approved flag and returns the updated user.
func (r *UserRepo) SetApproval(ctx context.Context, uid string, approved bool) (*model.User, error) {
	q := `UPDATE users SET approved = $2, updated_at = $3 WHERE uid = $1 RETURNING ` + userColumns
	user, err := r.queryOne(ctx, q, strings.TrimSpace(uid), approved, r.timeProvider.Now().UTC())
	if err != nil {
		return nil, r.mapWriteErr(err)
	}
	return user, nil
}

// SetRole changes the user's role and returns the updated user.
func (r *UserRepo) SetRole(ctx context.Context, uid string, role domainauth.Role) (*model.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	q := `UPDATE users SET role = $2, updated_at = $3 WHERE uid = $1 RETURNING ` + userColumns
	user, err := r.queryOne(ctx, q, strings.TrimSpace(uid), string(role), r.timeProvider.Now().UTC())
	if err != nil {
		return nil, r.mapWriteErr(err)
	}
	return user, nil
}

func (r *UserRepo) queryOne(ctx context.Context, q string, args ...any) (*model.User, error) {
	var user model.User
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		user, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.User])
		return err
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepo) mapWriteErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrUserExists
	}
	return err
}
