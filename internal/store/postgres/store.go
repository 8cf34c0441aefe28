// Package postgres implements the record store over PostgreSQL using
// pgx. Targets are read from links_to_scrape ordered by serial; results
// are upserted into links_to_scrape_log keyed by serial.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mowaffer/grocery-scraper/internal/scraper"
)

// DB is the subset of pgxpool.Pool the store needs. It matches the
// pgxmock pool interface so tests can substitute a mock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements scraper.TargetStore and scraper.ResultStore.
type Store struct {
	db DB
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewWithDB wraps an existing connection, mainly for tests.
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// ListTargets fetches the full scrape queue ordered by serial ascending.
func (s *Store) ListTargets(ctx context.Context) ([]scraper.Target, error) {
	rows, err := s.db.Query(ctx, `
		SELECT serial, website, category, url
		FROM links_to_scrape
		ORDER BY serial ASC`)
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	var targets []scraper.Target
	for rows.Next() {
		var t scraper.Target
		if err := rows.Scan(&t.Serial, &t.Domain, &t.Category, &t.URL); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	return targets, nil
}

// UpsertResult writes one result record keyed by serial, overwriting any
// record from a prior run.
func (s *Store) UpsertResult(ctx context.Context, r scraper.RunResult) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO links_to_scrape_log
			(serial, website, category, url, scrape_status, scraped_at,
			 products_found, pages_scraped, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (serial) DO UPDATE SET
			scrape_status = EXCLUDED.scrape_status,
			scraped_at = EXCLUDED.scraped_at,
			products_found = EXCLUDED.products_found,
			pages_scraped = EXCLUDED.pages_scraped,
			error_message = EXCLUDED.error_message`,
		r.Serial, r.Domain, r.Category, r.URL, string(r.Status), r.ScrapedAt,
		r.ProductsFound, r.PagesScraped, r.ErrorMessage)
	if err != nil {
		return fmt.Errorf("upsert result %d: %w", r.Serial, err)
	}
	return nil
}

// CountByStatus aggregates log records by scrape status.
func (s *Store) CountByStatus(ctx context.Context) (map[scraper.Status]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT scrape_status, COUNT(*)
		FROM links_to_scrape_log
		GROUP BY scrape_status`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[scraper.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[scraper.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}
