package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tendant/portal-auth/pkg/mfa"
)

const (
	usersTable       = "users"
	backupCodesTable = "backup_codes"

	uniqueViolation = "23505"
)

var userColumns = []string{
	"id",
	"email",
	"name",
	"password_hash",
	"active",
	"auth_provider",
	"image",
	"mfa_method",
	"totp_secret",
	"pending_totp_secret",
	"contact_number",
	"created_at",
	"updated_at",
	"last_login_at",
}

var backupCodeColumns = []string{
	"id",
	"user_id",
	"batch_id",
	"code_hash",
	"used",
	"used_at",
	"created_at",
}

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db      pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewPostgresRepository accepts a *pgxpool.Pool or anything with the same
// query surface.
func NewPostgresRepository(db pgExecutor) *PostgresRepository {
	return &PostgresRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
}

func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (User, error) {
	query, args, err := r.builder.Select(userColumns...).
		From(usersTable).
		Where(squirrel.Eq{"email": NormalizeEmail(email)}).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build find user query: %w", err)
	}
	return r.queryUser(ctx, query, args)
}

func (r *PostgresRepository) FindUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	query, args, err := r.builder.Select(userColumns...).
		From(usersTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build find user query: %w", err)
	}
	return r.queryUser(ctx, query, args)
}

func (r *PostgresRepository) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.AuthProvider == "" {
		u.AuthProvider = ProviderCredentials
	}
	method := u.MFA.Method
	if method == "" {
		method = mfa.MethodNone
	}
	now := r.now().UTC()

	query, args, err := r.builder.Insert(usersTable).
		Columns(userColumns...).
		Values(
			u.ID,
			NormalizeEmail(u.Email),
			nullable(u.Name),
			nullable(u.PasswordHash),
			u.Active,
			u.AuthProvider,
			nullable(u.Image),
			string(method),
			nullable(u.MFA.TotpSecret),
			nullable(u.MFA.PendingTotpSecret),
			nullable(u.MFA.ContactNumber),
			now,
			now,
			u.LastLoginAt,
		).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build create user query: %w", err)
	}

	created, err := r.queryUser(ctx, query, args)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrUserExists
		}
		return User{}, err
	}
	return created, nil
}

func (r *PostgresRepository) UpdateUser(ctx context.Context, id uuid.UUID, patch Patch) (User, error) {
	if patch.IsEmpty() {
		return User{}, ErrEmptyPatch
	}

	q := r.builder.Update(usersTable)
	if patch.Name != nil {
		q = q.Set("name", nullable(*patch.Name))
	}
	if patch.Image != nil {
		q = q.Set("image", nullable(*patch.Image))
	}
	if patch.Active != nil {
		q = q.Set("active", *patch.Active)
	}
	if patch.MFA != nil {
		method := patch.MFA.Method
		if method == "" {
			method = mfa.MethodNone
		}
		q = q.Set("mfa_method", string(method)).
			Set("totp_secret", nullable(patch.MFA.TotpSecret)).
			Set("pending_totp_secret", nullable(patch.MFA.PendingTotpSecret)).
			Set("contact_number", nullable(patch.MFA.ContactNumber))
	}
	if patch.LastLoginAt != nil {
		q = q.Set("last_login_at", patch.LastLoginAt.UTC())
	}

	query, args, err := q.Set("updated_at", r.now().UTC()).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build update user query: %w", err)
	}
	return r.queryUser(ctx, query, args)
}

// CreateBackupCodes deletes the previous batch and inserts the new one in a
// single transaction.
func (r *PostgresRepository) CreateBackupCodes(ctx context.Context, userID uuid.UUID, hashes []string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin backup code transaction: %w", err)
	}

	if err := r.replaceBackupCodes(ctx, tx, userID, hashes); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit backup codes: %w", err)
	}
	return nil
}

func (r *PostgresRepository) replaceBackupCodes(ctx context.Context, tx pgx.Tx, userID uuid.UUID, hashes []string) error {
	query, args, err := r.builder.Delete(backupCodesTable).
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete backup codes query: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete backup codes: %w", err)
	}

	if len(hashes) == 0 {
		return nil
	}

	batchID := uuid.New()
	now := r.now().UTC()
	insert := r.builder.Insert(backupCodesTable).
		Columns("id", "user_id", "batch_id", "code_hash", "used", "created_at")
	for _, h := range hashes {
		insert = insert.Values(uuid.New(), userID, batchID, h, false, now)
	}

	query, args, err = insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert backup codes query: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert backup codes: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListUnusedBackupCodes(ctx context.Context, userID uuid.UUID) ([]BackupCode, error) {
	query, args, err := r.builder.Select(backupCodeColumns...).
		From(backupCodesTable).
		Where(squirrel.Eq{"user_id": userID, "used": false}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list backup codes query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list backup codes: %w", err)
	}
	defer rows.Close()

	var codes []BackupCode
	for rows.Next() {
		var (
			c      BackupCode
			usedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.BatchID, &c.CodeHash, &c.Used, &usedAt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan backup code: %w", err)
		}
		c.UsedAt = timePtr(usedAt)
		codes = append(codes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backup codes: %w", err)
	}
	return codes, nil
}

func (r *PostgresRepository) CountUnusedBackupCodes(ctx context.Context, userID uuid.UUID) (int, error) {
	query, args, err := r.builder.Select("COUNT(*)").
		From(backupCodesTable).
		Where(squirrel.Eq{"user_id": userID, "used": false}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count backup codes query: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count backup codes: %w", err)
	}
	return count, nil
}

// MarkBackupCodeUsed only updates a row that is still unused, so two
// requests racing on the same code cannot both succeed.
func (r *PostgresRepository) MarkBackupCodeUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	query, args, err := r.builder.Update(backupCodesTable).
		Set("used", true).
		Set("used_at", usedAt.UTC()).
		Where(squirrel.Eq{"id": id, "used": false}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build mark backup code query: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("mark backup code used: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) queryUser(ctx context.Context, query string, args []any) (User, error) {
	var (
		u             User
		name          pgtype.Text
		passwordHash  pgtype.Text
		image         pgtype.Text
		method        string
		totpSecret    pgtype.Text
		pendingSecret pgtype.Text
		contactNumber pgtype.Text
		lastLoginAt   pgtype.Timestamptz
	)

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&name,
		&passwordHash,
		&u.Active,
		&u.AuthProvider,
		&image,
		&method,
		&totpSecret,
		&pendingSecret,
		&contactNumber,
		&u.CreatedAt,
		&u.UpdatedAt,
		&lastLoginAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}

	parsed, err := mfa.ParseMethod(method)
	if err != nil {
		return User{}, err
	}

	u.Name = name.String
	u.PasswordHash = passwordHash.String
	u.Image = image.String
	u.MFA = mfa.State{
		Method:            parsed,
		TotpSecret:        totpSecret.String,
		PendingTotpSecret: pendingSecret.String,
		ContactNumber:     contactNumber.String,
	}
	u.LastLoginAt = timePtr(lastLoginAt)
	return u, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
