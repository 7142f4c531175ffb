package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/b2xlabs/tenantgate/internal/domain"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// Compile-time check: DomainRepository implements domain.DomainRepository.
var _ domain.DomainRepository = (*DomainRepository)(nil)

// DomainRepository implements domain.DomainRepository using SQLite.
type DomainRepository struct {
	db *sql.DB
}

// New opens a SQLite database, runs migrations, and returns a ready repository.
func New(dataSourceName string) (*DomainRepository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and
// returns a ready repository. Use this when the *sql.DB has been
// pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*DomainRepository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &DomainRepository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *DomainRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (r *DomainRepository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

const timeFormat = "2006-01-02T15:04:05Z"

const domainColumns = `id, tenant_id, domain_name, type, is_primary, is_active,
	verification_status, verification_token, verification_expires_at,
	verification_attempts, last_verification_check, failure_reason,
	ssl_status, created_at, updated_at, verified_at`

func (r *DomainRepository) Create(ctx context.Context, d domain.Domain) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO domains (`+domainColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.TenantID.String(), d.DomainName, string(d.Type),
		boolToInt(d.IsPrimary), boolToInt(d.IsActive),
		string(d.VerificationStatus), d.VerificationToken,
		nullableTime(d.VerificationExpiresAt),
		d.VerificationAttempts,
		nullableTime(d.LastVerificationCheck),
		d.FailureReason, string(d.SslStatus),
		d.CreatedAt.Format(timeFormat),
		d.UpdatedAt.Format(timeFormat),
		nullableTime(d.VerifiedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.AlreadyClaimedError{DomainName: d.DomainName}
		}
		return fmt.Errorf("inserting domain: %w", err)
	}
	return nil
}

func (r *DomainRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Domain, error) {
	return scanDomain(r.db.QueryRowContext(ctx,
		`SELECT `+domainColumns+` FROM domains WHERE id = ?`, id.String(),
	))
}

func (r *DomainRepository) GetByName(ctx context.Context, name string) (domain.Domain, error) {
	// domain_name is COLLATE NOCASE, so the comparison is case-insensitive
	// even for rows written before names were normalized.
	return scanDomain(r.db.QueryRowContext(ctx,
		`SELECT `+domainColumns+` FROM domains WHERE domain_name = ?`, name,
	))
}

func (r *DomainRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Domain, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+domainColumns+` FROM domains
		 WHERE tenant_id = ? ORDER BY created_at ASC`, tenantID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing tenant domains: %w", err)
	}
	defer rows.Close()

	return collectDomains(rows)
}

func (r *DomainRepository) ListPendingVerification(ctx context.Context) ([]domain.Domain, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+domainColumns+` FROM domains
		 WHERE verification_status = ? AND type = ?
		   AND (verification_expires_at IS NULL OR verification_expires_at > ?)
		 ORDER BY created_at ASC`,
		string(domain.StatusPending), string(domain.TypeCustom),
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending domains: %w", err)
	}
	defer rows.Close()

	return collectDomains(rows)
}

func (r *DomainRepository) Update(ctx context.Context, d domain.Domain) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE domains SET
			is_primary = ?, is_active = ?, verification_status = ?,
			verification_token = ?, verification_expires_at = ?,
			verification_attempts = ?, last_verification_check = ?,
			failure_reason = ?, ssl_status = ?, updated_at = ?, verified_at = ?
		 WHERE id = ?`,
		boolToInt(d.IsPrimary), boolToInt(d.IsActive),
		string(d.VerificationStatus), d.VerificationToken,
		nullableTime(d.VerificationExpiresAt),
		d.VerificationAttempts,
		nullableTime(d.LastVerificationCheck),
		d.FailureReason, string(d.SslStatus),
		time.Now().UTC().Format(timeFormat),
		nullableTime(d.VerifiedAt),
		d.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("updating domain: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrDomainNotFound
	}

	return nil
}

func (r *DomainRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM domains WHERE id = ?`, id.String(),
	)
	if err != nil {
		return fmt.Errorf("deleting domain: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrDomainNotFound
	}

	return nil
}

// SetPrimary clears the tenant's previous primary and sets the new one
// in a single transaction: no observer ever sees two primaries, and the
// partial unique index backs the invariant up at the storage level.
func (r *DomainRepository) SetPrimary(ctx context.Context, tenantID, domainID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning set-primary transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeFormat)

	if _, err := tx.ExecContext(ctx,
		`UPDATE domains SET is_primary = 0, updated_at = ?
		 WHERE tenant_id = ? AND is_primary = 1`,
		now, tenantID.String(),
	); err != nil {
		return fmt.Errorf("clearing previous primary: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE domains SET is_primary = 1, updated_at = ?
		 WHERE id = ? AND tenant_id = ?`,
		now, domainID.String(), tenantID.String(),
	)
	if err != nil {
		return fmt.Errorf("setting primary: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrDomainNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing set-primary transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanDomain scans a single row into a domain.Domain.
func scanDomain(row rowScanner) (domain.Domain, error) {
	var d domain.Domain
	var id, tenantID, typ, status, sslStatus, createdAt, updatedAt string
	var isPrimary, isActive int
	var expiresAt, lastCheck, verifiedAt sql.NullString

	err := row.Scan(&id, &tenantID, &d.DomainName, &typ, &isPrimary, &isActive,
		&status, &d.VerificationToken, &expiresAt,
		&d.VerificationAttempts, &lastCheck, &d.FailureReason,
		&sslStatus, &createdAt, &updatedAt, &verifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Domain{}, domain.ErrDomainNotFound
		}
		return domain.Domain{}, fmt.Errorf("scanning domain: %w", err)
	}

	d.ID, err = uuid.Parse(id)
	if err != nil {
		return domain.Domain{}, fmt.Errorf("parsing domain id: %w", err)
	}
	d.TenantID, err = uuid.Parse(tenantID)
	if err != nil {
		return domain.Domain{}, fmt.Errorf("parsing tenant id: %w", err)
	}

	d.Type = domain.Type(typ)
	d.IsPrimary = isPrimary != 0
	d.IsActive = isActive != 0
	d.VerificationStatus = domain.Status(status)
	d.SslStatus = domain.SslStatus(sslStatus)
	d.CreatedAt, err = time.Parse(timeFormat, createdAt)
	if err != nil {
		return domain.Domain{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.UpdatedAt, err = time.Parse(timeFormat, updatedAt)
	if err != nil {
		return domain.Domain{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	d.VerificationExpiresAt = parseNullableTime(expiresAt)
	d.LastVerificationCheck = parseNullableTime(lastCheck)
	d.VerifiedAt = parseNullableTime(verifiedAt)

	return d, nil
}

func collectDomains(rows *sql.Rows) ([]domain.Domain, error) {
	var out []domain.Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
