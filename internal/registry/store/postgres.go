package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	"cardvault/pkg/platform/sentinel"
)

// Postgres persists records, provenance, and the authorized-caller set.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the registry tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS records (
    id               BIGSERIAL PRIMARY KEY,
    name             TEXT NOT NULL,
    metadata_pointer TEXT NOT NULL,
    graded           BOOLEAN NOT NULL DEFAULT FALSE,
    grade            TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL,
    price            BIGINT NOT NULL,
    owner            TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS provenance (
    record_id  BIGINT NOT NULL REFERENCES records(id),
    seq        BIGINT NOT NULL,
    owner      TEXT NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL,
    price      BIGINT NOT NULL,
    PRIMARY KEY (record_id, seq)
);
CREATE TABLE IF NOT EXISTS authorized_callers (
    address TEXT PRIMARY KEY
);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate registry schema: %w", err)
	}
	return nil
}

func (s *Postgres) Create(ctx context.Context, record *models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB("begin create", err)
	}
	defer tx.Rollback()

	var id uint64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO records (name, metadata_pointer, graded, grade, created_at, price, owner)
		 VALUES ($1, $2, FALSE, '', $3, $4, $5) RETURNING id`,
		record.Name, record.MetadataPointer, record.CreatedAt, int64(record.Price), record.Owner.String(),
	).Scan(&id)
	if err != nil {
		return wrapDB("insert record", err)
	}
	record.ID = domain.TokenID(id)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO provenance (record_id, seq, owner, occurred_at, price) VALUES ($1, 0, $2, $3, 0)`,
		int64(record.ID), record.Owner.String(), record.CreatedAt,
	)
	if err != nil {
		return wrapDB("insert creation provenance", err)
	}
	return tx.Commit()
}

func (s *Postgres) Get(ctx context.Context, id domain.TokenID) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, metadata_pointer, graded, grade, created_at, price, owner
		 FROM records WHERE id = $1`, int64(id))
	return scanRecord(row)
}

func (s *Postgres) Update(ctx context.Context, record *models.Record) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET name = $2, metadata_pointer = $3, graded = $4, grade = $5, price = $6, owner = $7
		 WHERE id = $1`,
		int64(record.ID), record.Name, record.MetadataPointer,
		record.Grade.IsGraded(), gradeColumn(record), int64(record.Price), record.Owner.String(),
	)
	if err != nil {
		return wrapDB("update record", err)
	}
	return requireRow(res)
}

func (s *Postgres) Transfer(ctx context.Context, id domain.TokenID, to domain.Address, price uint64, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDB("begin transfer", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE records SET owner = $2 WHERE id = $1`, int64(id), to.String())
	if err != nil {
		return wrapDB("update owner", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO provenance (record_id, seq, owner, occurred_at, price)
		 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4 FROM provenance WHERE record_id = $1`,
		int64(id), to.String(), at, int64(price),
	)
	if err != nil {
		return wrapDB("append provenance", err)
	}
	return tx.Commit()
}

func (s *Postgres) History(ctx context.Context, id domain.TokenID) ([]models.ProvenanceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner, occurred_at, price FROM provenance WHERE record_id = $1 ORDER BY seq`, int64(id))
	if err != nil {
		return nil, wrapDB("query provenance", err)
	}
	defer rows.Close()

	var entries []models.ProvenanceEntry
	for rows.Next() {
		var (
			owner string
			at    time.Time
			price int64
		)
		if err := rows.Scan(&owner, &at, &price); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		entries = append(entries, models.ProvenanceEntry{
			Owner:     domain.Address(owner),
			Timestamp: at,
			Price:     uint64(price),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provenance: %w", err)
	}
	if len(entries) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return entries, nil
}

func (s *Postgres) SetAuthorizedCaller(ctx context.Context, addr domain.Address, allowed bool) error {
	var err error
	if allowed {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO authorized_callers (address) VALUES ($1) ON CONFLICT DO NOTHING`, addr.String())
	} else {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM authorized_callers WHERE address = $1`, addr.String())
	}
	if err != nil {
		return wrapDB("set authorized caller", err)
	}
	return nil
}

func (s *Postgres) IsAuthorizedCaller(ctx context.Context, addr domain.Address) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM authorized_callers WHERE address = $1)`, addr.String()).Scan(&exists)
	if err != nil {
		return false, wrapDB("check authorized caller", err)
	}
	return exists, nil
}

func scanRecord(row *sql.Row) (*models.Record, error) {
	var (
		id      int64
		name    string
		pointer string
		graded  bool
		grade   string
		created time.Time
		price   int64
		owner   string
	)
	err := row.Scan(&id, &name, &pointer, &graded, &grade, &created, &price, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, wrapDB("scan record", err)
	}
	record := &models.Record{
		ID:              domain.TokenID(id),
		Name:            name,
		MetadataPointer: pointer,
		CreatedAt:       created,
		Price:           uint64(price),
		Owner:           domain.Address(owner),
	}
	if graded {
		record.Grade = models.Graded(grade)
	}
	return record, nil
}

func gradeColumn(record *models.Record) string {
	if record.Grade.IsGraded() {
		return record.Grade.Value()
	}
	return ""
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// wrapDB surfaces dead connections as ErrUnavailable so callers can answer
// with a retryable status instead of a generic internal error.
func wrapDB(op string, err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%s: %w", op, sentinel.ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}
