package matches

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidMatchNumber is returned when match_number is not an integer
	// of at least 1.
	ErrInvalidMatchNumber = errors.New("match_number must be a positive integer")
	// ErrConflict is returned when a candidate collides with a different
	// match on one of the unique keys.
	ErrConflict = errors.New("conflicts with an existing match")
	// ErrNotFound is returned by lookups by id.
	ErrNotFound = errors.New("match not found")
)

// RowError is a reconciliation failure attached to one import row.
type RowError struct {
	RowNumber int
	Err       error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.RowNumber, e.Err) }
func (e *RowError) Unwrap() error { return e.Err }

// Store is the persistence the reconciler needs. Lookups return nil, nil
// when nothing matches.
type Store interface {
	FindByDate(ctx context.Context, date string) (*Match, error)
	FindByNumber(ctx context.Context, n int64) (*Match, error)
	Insert(ctx context.Context, m Match) (int64, error)
	Update(ctx context.Context, m Match) error
}

// Decision is the dry-run result for one candidate.
type Decision struct {
	Action   Action
	Existing *Match
	// Match is the normalized record that would be written.
	Match Match
}

// Reconciler decides insert/update/skip for candidates against a Store.
type Reconciler struct {
	store Store
	now   func() time.Time
}

func NewReconciler(s Store) *Reconciler {
	return &Reconciler{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// WithStore returns a reconciler sharing settings but writing to s.
func (r *Reconciler) WithStore(s Store) *Reconciler {
	cp := *r
	cp.store = s
	return &cp
}

var validate = validator.New()

// IsURL reports whether s is an http(s) URL.
func IsURL(s string) bool {
	return s != "" && validate.Var(s, "http_url") == nil
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// NormalizeDate returns YYYY-MM-DD when s parses as a date, otherwise the
// trimmed input. It never rejects.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

// normalizeInput turns a candidate into the record shape that is stored.
func normalizeInput(in MatchInput) (Match, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(in.MatchNumber), 10, 64)
	if err != nil {
		return Match{}, errors.Wrapf(ErrInvalidMatchNumber, "%q", in.MatchNumber)
	}
	if n < 1 {
		return Match{}, errors.Wrapf(ErrInvalidMatchNumber, "%d", n)
	}
	place := strings.TrimSpace(in.Place)
	m := Match{
		MatchNumber:   n,
		Date:          NormalizeDate(in.Date),
		OpponentsTeam: strings.TrimSpace(in.OpponentsTeam),
		HomeOrAway:    strings.TrimSpace(in.HomeOrAway),
		PlaceText:     place,
	}
	if IsURL(place) {
		u := place
		m.PlaceURL = &u
	}
	return m, nil
}

func sameContent(a, b Match) bool {
	return a.MatchNumber == b.MatchNumber &&
		a.Date == b.Date &&
		a.OpponentsTeam == b.OpponentsTeam &&
		a.HomeOrAway == b.HomeOrAway &&
		a.PlaceText == b.PlaceText &&
		sval(a.PlaceURL) == sval(b.PlaceURL) &&
		(a.PlaceURL == nil) == (b.PlaceURL == nil)
}

// Classify resolves the candidate against the store without writing.
// Lookup is by date first, then by match_number. A match found only by
// number that already has a different date is a second match sharing the
// number, so that case is ErrConflict rather than a silent re-date.
func (r *Reconciler) Classify(ctx context.Context, in MatchInput) (Decision, error) {
	m, err := normalizeInput(in)
	if err != nil {
		return Decision{}, err
	}

	var existing *Match
	if m.Date != "" {
		if existing, err = r.store.FindByDate(ctx, m.Date); err != nil {
			return Decision{}, errors.Wrap(err, "lookup by date")
		}
	}
	if existing == nil {
		byNumber, err := r.store.FindByNumber(ctx, m.MatchNumber)
		if err != nil {
			return Decision{}, errors.Wrap(err, "lookup by match_number")
		}
		if byNumber != nil && byNumber.Date != "" && byNumber.Date != m.Date {
			return Decision{Action: ActionError, Existing: byNumber, Match: m},
				errors.Wrapf(ErrConflict, "match_number %d is already used on %s", m.MatchNumber, byNumber.Date)
		}
		existing = byNumber
	} else if existing.MatchNumber != m.MatchNumber {
		other, err := r.store.FindByNumber(ctx, m.MatchNumber)
		if err != nil {
			return Decision{}, errors.Wrap(err, "lookup by match_number")
		}
		if other != nil && other.ID != existing.ID {
			return Decision{Action: ActionError, Existing: existing, Match: m},
				errors.Wrapf(ErrConflict, "match_number %d is already used on %s", m.MatchNumber, other.Date)
		}
	}

	if existing == nil {
		return Decision{Action: ActionInsert, Match: m}, nil
	}
	m.ID = existing.ID
	if sameContent(*existing, m) {
		return Decision{Action: ActionSkip, Existing: existing, Match: m}, nil
	}
	return Decision{Action: ActionUpdate, Existing: existing, Match: m}, nil
}

// Apply classifies the candidate and performs the write it calls for.
// It returns inserted, updated or skipped together with the match id.
func (r *Reconciler) Apply(ctx context.Context, in MatchInput, source Source, actorID *int64) (Action, int64, error) {
	d, err := r.Classify(ctx, in)
	if err != nil {
		return ActionError, 0, err
	}
	now := r.now()
	m := d.Match
	m.Source = source

	switch d.Action {
	case ActionSkip:
		return ActionSkipped, d.Existing.ID, nil
	case ActionUpdate:
		m.CreatedBy = d.Existing.CreatedBy
		m.CreatedAt = d.Existing.CreatedAt
		m.UpdatedAt = &now
		if err := r.store.Update(ctx, m); err != nil {
			return ActionError, 0, errors.Wrap(err, "update match")
		}
		return ActionUpdated, m.ID, nil
	default:
		m.CreatedBy = actorID
		m.CreatedAt = &now
		id, err := r.store.Insert(ctx, m)
		if err != nil {
			return ActionError, 0, errors.Wrap(err, "insert match")
		}
		return ActionInserted, id, nil
	}
}

// Replace rewrites the match with existing.ID from the candidate, keeping
// its creator and creation time. Moving it onto a date or number held by
// another match fails with ErrConflict.
func (r *Reconciler) Replace(ctx context.Context, existing Match, in MatchInput, source Source) (Match, error) {
	m, err := normalizeInput(in)
	if err != nil {
		return Match{}, err
	}
	now := r.now()
	m.ID = existing.ID
	m.CreatedBy, m.CreatedAt = existing.CreatedBy, existing.CreatedAt
	m.Source, m.UpdatedAt = source, &now
	if err := r.store.Update(ctx, m); err != nil {
		return Match{}, errors.Wrapf(err, "update match %d", m.ID)
	}
	return m, nil
}

func sval(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
