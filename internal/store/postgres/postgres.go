// Package postgres is the durable Deal Store, backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"chainpay/internal/interfaces"
	"chainpay/internal/models"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

var _ interfaces.DealStore = (*Store)(nil)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const columns = `id, chain, txid, target_confirmations, confirmations, status, owner_ref, created_at, updated_at`

type Store struct {
	db *sql.DB
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Migrate brings the schema up to date.
func (s *Store) Migrate(dbName string) error {
	driver, err := migratepg.WithInstance(s.db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("could not create database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dbName, driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run up migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddTracking inserts the transaction, or returns the row already registered
// for the same chain and txid.
func (s *Store) AddTracking(ctx context.Context, owner, chain, txid string, target uint64) (models.WatchedTransaction, error) {
	chain = strings.ToLower(chain)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO watched_transactions (chain, txid, target_confirmations, status, owner_ref)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chain, txid) DO NOTHING
		RETURNING `+columns,
		chain, txid, int64(target), models.StatusPending, owner)

	w, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		row = s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM watched_transactions WHERE chain = $1 AND txid = $2`, chain, txid)
		w, err = scan(row)
	}
	if err != nil {
		return models.WatchedTransaction{}, fmt.Errorf("add tracking %s/%s: %w", chain, txid, err)
	}
	return w, nil
}

// ListPending returns transactions still in flight plus confirmed ones not
// yet marked complete, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]models.WatchedTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+`
		FROM watched_transactions
		WHERE completed_at IS NULL AND status <> $1
		ORDER BY created_at`,
		models.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var out []models.WatchedTransaction
	for rows.Next() {
		w, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("list pending: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) MarkComplete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE watched_transactions
		SET completed_at = COALESCE(completed_at, NOW())
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark complete %s: %w", id, err)
	}
	return affected(res, id)
}

func (s *Store) Get(ctx context.Context, id string) (models.WatchedTransaction, error) {
	if err := checkID(id); err != nil {
		return models.WatchedTransaction{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM watched_transactions WHERE id = $1`, id)
	w, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return w, fmt.Errorf("%w: %s", interfaces.ErrNotFound, id)
	}
	return w, err
}

func (s *Store) Save(ctx context.Context, w models.WatchedTransaction) error {
	if err := checkID(w.ID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE watched_transactions
		SET confirmations = $2, status = $3, updated_at = $4
		WHERE id = $1`,
		w.ID, int64(w.Confirmations), w.Status, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save %s: %w", w.ID, err)
	}
	return affected(res, w.ID)
}

// checkID rejects ids that cannot name a row; ids are UUIDs and Postgres
// refuses anything else with a cast error.
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (models.WatchedTransaction, error) {
	var w models.WatchedTransaction
	var target, confs int64
	err := row.Scan(&w.ID, &w.Chain, &w.TxID, &target, &confs, &w.Status, &w.OwnerRef, &w.CreatedAt, &w.UpdatedAt)
	w.TargetConfirmations, w.Confirmations = uint64(target), uint64(confs)
	return w, err
}

func affected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, id)
	}
	return nil
}
