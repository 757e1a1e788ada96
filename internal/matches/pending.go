package matches

import (
	"context"

	"github.com/cockroachdb/errors"
)

// pendingStore layers the writes staged by earlier preview rows over a
// Store, so later rows of the same batch are classified the way Run will
// see them. Nothing reaches the underlying store.
type pendingStore struct {
	base Store
	// staged holds the would-be state of every touched match by id.
	// Negative ids are rows that would be inserted.
	staged map[int64]Match
	nextID int64
}

func newPendingStore(base Store) *pendingStore {
	return &pendingStore{base: base, staged: map[int64]Match{}}
}

func (p *pendingStore) FindByDate(ctx context.Context, date string) (*Match, error) {
	return p.find(func(m Match) bool { return m.Date == date }, func() (*Match, error) {
		return p.base.FindByDate(ctx, date)
	})
}

func (p *pendingStore) FindByNumber(ctx context.Context, n int64) (*Match, error) {
	return p.find(func(m Match) bool { return m.MatchNumber == n }, func() (*Match, error) {
		return p.base.FindByNumber(ctx, n)
	})
}

// find prefers a staged match. A stored match that was staged with other
// keys no longer holds the key being looked up.
func (p *pendingStore) find(hit func(Match) bool, load func() (*Match, error)) (*Match, error) {
	for _, m := range p.staged {
		if hit(m) {
			cp := m
			return &cp, nil
		}
	}
	found, err := load()
	if err != nil || found == nil {
		return found, err
	}
	if _, moved := p.staged[found.ID]; moved {
		return nil, nil
	}
	return found, nil
}

func (p *pendingStore) Insert(_ context.Context, m Match) (int64, error) {
	p.nextID--
	m.ID = p.nextID
	p.staged[m.ID] = m
	return m.ID, nil
}

func (p *pendingStore) Update(_ context.Context, m Match) error {
	if m.ID == 0 {
		return errors.New("staged update without id")
	}
	p.staged[m.ID] = m
	return nil
}

// stage records the write a decision calls for.
func (p *pendingStore) stage(ctx context.Context, d Decision) error {
	switch d.Action {
	case ActionInsert:
		_, err := p.Insert(ctx, d.Match)
		return err
	case ActionUpdate:
		return p.Update(ctx, d.Match)
	}
	return nil
}

// persisted hides the id of a match that only exists in the preview.
func persisted(m *Match) *Match {
	if m == nil || m.ID > 0 {
		return m
	}
	cp := *m
	cp.ID = 0
	return &cp
}
