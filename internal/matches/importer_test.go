package matches

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	dbpkg "github.com/xaitan80/darts-planner/internal/db"
)

const threeRows = "match_number,date,opponents_team,home_or_away,place\n" +
	"1,2025-03-01,Freccia Nera,home,Bar Sport\n" +
	"2,2025-03-08,Lupi,away,https://maps.example.com/pub\n" +
	"3,2025-03-15,Team C,home,Club\n"

func TestCommit_ReimportIsIdempotent(t *testing.T) {
	repo, db := newTestRepo(t)
	im := NewImporter(repo, CommitPerRow, zap.NewNop())
	ctx := context.Background()

	p, preview := im.Preview(ctx, threeRows, SourceCSVPaste)
	assert.Equal(t, 3, preview.Inserted)
	assert.Equal(t, []string{"match_number", "date", "opponents_team", "home_or_away", "place"}, p.DetectedColumns)
	assert.NotEmpty(t, p.ID)

	sum := im.Commit(ctx, p, nil)
	assert.Equal(t, 3, sum.Inserted)
	assert.Zero(t, sum.Errors)
	assert.Equal(t, 3, countMatches(t, db))

	p2, _ := im.Preview(ctx, threeRows, SourceCSVPaste)
	sum = im.Commit(ctx, p2, nil)
	assert.Equal(t, 3, sum.Skipped)
	assert.Zero(t, sum.Inserted+sum.Updated+sum.Errors)
	assert.Equal(t, 3, countMatches(t, db))

	var imports int
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM imports`).Scan(&imports))
	assert.Equal(t, 2, imports)
}

func TestPreview_MatchesCommit(t *testing.T) {
	repo, _ := newTestRepo(t)
	im := NewImporter(repo, CommitPerRow, nil)
	ctx := context.Background()

	_, _, err := NewReconciler(repo).Apply(ctx, input(1, "2025-03-01", "Freccia Nera"), SourceManual, nil)
	require.NoError(t, err)
	_, _, err = NewReconciler(repo).Apply(ctx, input(2, "2025-03-08", "Old name"), SourceManual, nil)
	require.NoError(t, err)

	text := "match_number,date,opponents_team,home_or_away,place\n" +
		"1,2025-03-01,Freccia Nera,home,Bar Sport\n" + // skip
		"2,2025-03-08,Lupi,away,Pub\n" + // update
		"4,2025-03-22,Team D,home,Club\n" + // insert
		"2,2025-03-01,Clash,home,Club\n" + // conflict
		"x,2025-04-01,Bad,home,Club\n" // invalid

	p, preview := im.Preview(ctx, text, SourceCSVPaste)
	require.Len(t, preview.Rows, 5)
	commit := im.Commit(ctx, p, nil)
	require.Len(t, commit.Rows, 5)

	for i := range preview.Rows {
		assert.Equal(t, preview.Rows[i].Action.Applied(), commit.Rows[i].Action, "row %d", i+1)
	}
	assert.Equal(t, []Action{ActionSkip, ActionUpdate, ActionInsert, ActionError, ActionError},
		[]Action{p.Rows[0].Action, p.Rows[1].Action, p.Rows[2].Action, p.Rows[3].Action, p.Rows[4].Action})
	assert.Equal(t, 1, commit.Inserted)
	assert.Equal(t, 1, commit.Updated)
	assert.Equal(t, 1, commit.Skipped)
	assert.Equal(t, 2, commit.Errors)
	assert.Equal(t, []string{"match_number must be an integer"}, commit.Rows[4].Errors)
	require.NotNil(t, preview.Rows[1].Existing)
	assert.Equal(t, "Old name", preview.Rows[1].Existing.OpponentsTeam)
}

func TestPreview_SeesEarlierRowsOfTheBatch(t *testing.T) {
	repo, db := newTestRepo(t)
	im := NewImporter(repo, CommitPerRow, nil)
	ctx := context.Background()

	text := "match_number,date,opponents_team,home_or_away,place\n" +
		"1,2025-03-01,A,home,Club\n" + // insert
		"1,2025-03-01,B,home,Club\n" + // update of the row above
		"2,2025-04-01,C,home,Club\n" + // insert
		"2,2025-04-08,D,home,Club\n" // number 2 already taken on 04-01

	p, preview := im.Preview(ctx, text, SourceCSVPaste)
	assert.Equal(t, 0, countMatches(t, db), "preview must not write")
	assert.Equal(t, 2, preview.Inserted)
	assert.Equal(t, 1, preview.Updated)
	assert.Equal(t, 1, preview.Errors)
	require.NotNil(t, preview.Rows[1].Existing)
	assert.Equal(t, "A", preview.Rows[1].Existing.OpponentsTeam)
	assert.Zero(t, preview.Rows[1].MatchID)
	assert.Zero(t, preview.Rows[1].Existing.ID)

	commit := im.Commit(ctx, p, nil)
	require.Len(t, commit.Rows, 4)
	for i := range preview.Rows {
		assert.Equal(t, preview.Rows[i].Action.Applied(), commit.Rows[i].Action, "row %d", i+1)
	}
	assert.Equal(t, preview.Inserted, commit.Inserted)
	assert.Equal(t, preview.Updated, commit.Updated)
	assert.Equal(t, preview.Errors, commit.Errors)
	assert.Equal(t, 2, countMatches(t, db))
}

// lockedStore is an in-memory TxStore whose insert of one match number
// fails as if the database stayed locked through every retry.
type lockedStore struct {
	rows   []Match
	lockOn int64
}

func (s *lockedStore) FindByDate(_ context.Context, date string) (*Match, error) {
	for _, m := range s.rows {
		if m.Date == date {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *lockedStore) FindByNumber(_ context.Context, n int64) (*Match, error) {
	for _, m := range s.rows {
		if m.MatchNumber == n {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *lockedStore) Insert(_ context.Context, m Match) (int64, error) {
	if m.MatchNumber == s.lockOn {
		return 0, errors.Mark(errors.New("database is locked"), dbpkg.ErrTransient)
	}
	m.ID = int64(len(s.rows) + 1)
	s.rows = append(s.rows, m)
	return m.ID, nil
}

func (s *lockedStore) Update(_ context.Context, m Match) error {
	for i := range s.rows {
		if s.rows[i].ID == m.ID {
			s.rows[i] = m
			return nil
		}
	}
	return ErrNotFound
}

func (s *lockedStore) InTx(_ context.Context, fn func(Store) error) error { return fn(s) }

func TestRun_TransientFailureStaysOnItsRow(t *testing.T) {
	store := &lockedStore{lockOn: 2}
	core, logs := observer.New(zap.WarnLevel)
	im := NewImporter(store, CommitPerRow, zap.New(core))

	sum := im.Run(context.Background(), Normalize(threeRows), SourceCSVPaste, nil)
	require.Len(t, sum.Rows, 3)
	assert.Equal(t, ActionInserted, sum.Rows[0].Action)
	assert.Equal(t, ActionError, sum.Rows[1].Action)
	require.Len(t, sum.Rows[1].Errors, 1)
	assert.Contains(t, sum.Rows[1].Errors[0], "database is locked")
	assert.Equal(t, ActionInserted, sum.Rows[2].Action)
	assert.Equal(t, 2, sum.Inserted)
	assert.Equal(t, 1, sum.Errors)
	assert.Len(t, store.rows, 2)

	warned := logs.FilterMessage("import row failed").All()
	require.Len(t, warned, 1)
	assert.EqualValues(t, 2, warned[0].ContextMap()["row"])
}

func TestRun_ValidationGating(t *testing.T) {
	repo, db := newTestRepo(t)
	im := NewImporter(repo, CommitPerRow, nil)

	rows := Normalize("match_number,date,opponents_team,home_or_away\n1,2025-03-01,A,home\n")
	sum := im.Run(context.Background(), rows, SourceCSVPaste, nil)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, []string{"Missing place"}, sum.Rows[0].Errors)
	assert.Equal(t, 0, countMatches(t, db))
}

func TestRun_BatchRollsBack(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	_, _, err := NewReconciler(repo).Apply(ctx, input(1, "2025-03-01", "A"), SourceManual, nil)
	require.NoError(t, err)
	_, _, err = NewReconciler(repo).Apply(ctx, input(2, "2025-03-08", "B"), SourceManual, nil)
	require.NoError(t, err)

	im := NewImporter(repo, CommitBatch, nil)
	assert.Equal(t, CommitBatch, im.Mode())
	rows := Normalize("match_number,date,opponents_team,home_or_away,place\n" +
		"3,2025-03-15,C,home,Club\n" +
		"2,2025-03-01,Clash,home,Club\n")
	sum := im.Run(ctx, rows, SourceCSVPaste, nil)

	assert.Equal(t, 2, sum.Errors)
	assert.Zero(t, sum.Inserted)
	assert.Equal(t, []string{"rolled back: another row failed"}, sum.Rows[0].Errors)
	assert.Equal(t, 2, countMatches(t, db), "the valid row was rolled back")

	found, err := repo.FindByNumber(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRun_BatchSkipsInvalidRows(t *testing.T) {
	repo, db := newTestRepo(t)
	im := NewImporter(repo, CommitBatch, nil)
	rows := Normalize("match_number,date,opponents_team,home_or_away,place\n" +
		"1,2025-03-01,A,home,Club\n" +
		"2,2025-03-08,B,home,\n" +
		"3,2025-03-15,C,home,Club\n")
	sum := im.Run(context.Background(), rows, SourceCSVPaste, nil)

	assert.Equal(t, 2, sum.Inserted)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, []string{"Missing place"}, sum.Rows[1].Errors)
	assert.Equal(t, 2, countMatches(t, db))
}

func TestRun_BatchCommits(t *testing.T) {
	repo, db := newTestRepo(t)
	im := NewImporter(repo, CommitBatch, nil)
	sum := im.Run(context.Background(), Normalize(threeRows), SourceCSVPaste, nil)
	assert.Equal(t, 3, sum.Inserted)
	assert.Equal(t, 3, countMatches(t, db))
}

func TestCommit_LogsSummary(t *testing.T) {
	repo, _ := newTestRepo(t)
	core, logs := observer.New(zap.InfoLevel)
	im := NewImporter(repo, CommitPerRow, zap.New(core))
	ctx := context.Background()

	p, _ := im.Preview(ctx, threeRows, "")
	im.Commit(ctx, p, nil)

	entries := logs.FilterMessage("import committed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, 3, fields["inserted"])
	assert.Equal(t, string(SourceCSVPaste), fields["source"])
}

func TestParseCommitMode(t *testing.T) {
	m, err := ParseCommitMode("")
	require.NoError(t, err)
	assert.Equal(t, CommitPerRow, m)
	m, err = ParseCommitMode("batch")
	require.NoError(t, err)
	assert.Equal(t, CommitBatch, m)
	_, err = ParseCommitMode("sometimes")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "sometimes"))
}
