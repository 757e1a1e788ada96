package matches

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	dbpkg "github.com/xaitan80/darts-planner/internal/db"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository is the SQL-backed match store. Every statement runs through
// the retry policy so a busy database is retried before surfacing.
type Repository struct {
	db    *sql.DB
	q     querier
	retry dbpkg.RetryPolicy
}

func NewRepository(db *sql.DB, retry dbpkg.RetryPolicy) *Repository {
	return &Repository{db: db, q: db, retry: retry}
}

const matchColumns = `id, match_number, date, opponents_team, home_or_away, place_text, place_parsed_url, source_import, created_by, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMatch(s scanner) (Match, error) {
	var (
		m         Match
		placeText sql.NullString
		source    sql.NullString
	)
	err := s.Scan(&m.ID, &m.MatchNumber, &m.Date, &m.OpponentsTeam, &m.HomeOrAway,
		&placeText, &m.PlaceURL, &source, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return Match{}, err
	}
	m.PlaceText = placeText.String
	m.Source = Source(source.String)
	return m, nil
}

func (r *Repository) findOne(ctx context.Context, where string, arg any) (*Match, error) {
	return dbpkg.Retry(ctx, r.retry, func() (*Match, error) {
		m, err := scanMatch(r.q.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE `+where, arg))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &m, nil
	})
}

func (r *Repository) FindByDate(ctx context.Context, date string) (*Match, error) {
	return r.findOne(ctx, `date = ?`, date)
}

func (r *Repository) FindByNumber(ctx context.Context, n int64) (*Match, error) {
	return r.findOne(ctx, `match_number = ?`, n)
}

func (r *Repository) Insert(ctx context.Context, m Match) (int64, error) {
	id, err := dbpkg.Retry(ctx, r.retry, func() (int64, error) {
		res, err := r.q.ExecContext(ctx,
			`INSERT INTO matches (match_number, date, opponents_team, home_or_away, place_text, place_parsed_url, source_import, created_by, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.MatchNumber, m.Date, m.OpponentsTeam, m.HomeOrAway, m.PlaceText, m.PlaceURL, string(m.Source), m.CreatedBy, m.CreatedAt,
		)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	})
	return id, markConflict(err)
}

// Update overwrites every content field of the row with m.ID.
func (r *Repository) Update(ctx context.Context, m Match) error {
	err := dbpkg.WithRetry(ctx, r.retry, func() error {
		res, err := r.q.ExecContext(ctx,
			`UPDATE matches SET match_number = ?, date = ?, opponents_team = ?, home_or_away = ?, place_text = ?, place_parsed_url = ?, updated_at = ?, source_import = ?
			 WHERE id = ?`,
			m.MatchNumber, m.Date, m.OpponentsTeam, m.HomeOrAway, m.PlaceText, m.PlaceURL, m.UpdatedAt, string(m.Source), m.ID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
	return markConflict(err)
}

func markConflict(err error) error {
	if err != nil && dbpkg.IsUniqueViolation(err) {
		return errors.Mark(err, ErrConflict)
	}
	return err
}

// -------- Calendar reads and admin writes --------

func (r *Repository) List(ctx context.Context) ([]Match, error) {
	return dbpkg.Retry(ctx, r.retry, func() ([]Match, error) {
		rows, err := r.q.QueryContext(ctx, `SELECT `+matchColumns+` FROM matches ORDER BY date, match_number`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []Match
		for rows.Next() {
			m, err := scanMatch(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, rows.Err()
	})
}

func (r *Repository) Get(ctx context.Context, id int64) (Match, error) {
	m, err := r.findOne(ctx, `id = ?`, id)
	if err != nil {
		return Match{}, err
	}
	if m == nil {
		return Match{}, ErrNotFound
	}
	return *m, nil
}

// Delete removes a match together with its attendance rows. History rows
// are kept.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return r.InTx(ctx, func(s Store) error {
		tr := s.(*Repository)
		return dbpkg.WithRetry(ctx, r.retry, func() error {
			if _, err := tr.q.ExecContext(ctx, `DELETE FROM attendance WHERE match_id = ?`, id); err != nil {
				return err
			}
			res, err := tr.q.ExecContext(ctx, `DELETE FROM matches WHERE id = ?`, id)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrNotFound
			}
			return nil
		})
	})
}

// RecordImport stores the raw text of a committed import.
func (r *Repository) RecordImport(ctx context.Context, uploaderID *int64, sourceText string, rowCount int) error {
	return dbpkg.WithRetry(ctx, r.retry, func() error {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO imports (uploader_id, source_text, row_count, created_at) VALUES (?, ?, ?, ?)`,
			uploaderID, sourceText, rowCount, time.Now().UTC(),
		)
		return err
	})
}

// InTx runs fn with a Store bound to a single transaction, committing when
// fn returns nil and rolling back otherwise.
func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	if r.db == nil {
		// already inside a transaction
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Repository{q: tx, retry: r.retry}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}
