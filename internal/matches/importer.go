package matches

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommitMode selects how a committed import is persisted.
type CommitMode string

const (
	// CommitPerRow commits every row independently; a bad row does not
	// undo the rows before it.
	CommitPerRow CommitMode = "per-row"
	// CommitBatch runs the whole import in one transaction; a row that fails
	// to reconcile or write rolls everything back. Rows failing validation
	// are reported and left out without aborting.
	CommitBatch CommitMode = "batch"
)

func ParseCommitMode(s string) (CommitMode, error) {
	switch CommitMode(s) {
	case CommitPerRow, "":
		return CommitPerRow, nil
	case CommitBatch:
		return CommitBatch, nil
	}
	return "", errors.Newf("unknown commit mode %q", s)
}

// TxStore is a Store that can also scope work to one transaction.
type TxStore interface {
	Store
	InTx(ctx context.Context, fn func(Store) error) error
}

// ImportRecorder persists the raw text of a committed import.
type ImportRecorder interface {
	RecordImport(ctx context.Context, uploaderID *int64, sourceText string, rowCount int) error
}

// PendingImport is returned by a preview and handed back by the caller to
// commit. It carries everything needed; nothing is kept server side.
type PendingImport struct {
	ID              string      `json:"id"`
	Source          Source      `json:"source"`
	CreatedAt       time.Time   `json:"created_at"`
	Text            string      `json:"text,omitempty"`
	DetectedColumns []string    `json:"detected_columns"`
	Rows            []ImportRow `json:"rows"`
}

var errBatchAborted = errors.New("batch aborted")

// Importer runs the reconciler over batches of rows.
type Importer struct {
	store    TxStore
	recorder ImportRecorder
	mode     CommitMode
	logger   *zap.Logger
	now      func() time.Time
}

func NewImporter(store TxStore, mode CommitMode, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	im := &Importer{store: store, mode: mode, logger: logger, now: func() time.Time { return time.Now().UTC() }}
	if rec, ok := store.(ImportRecorder); ok {
		im.recorder = rec
	}
	return im
}

func (im *Importer) Mode() CommitMode { return im.mode }

// Preview normalizes and validates pasted text, then classifies each valid
// row with the same logic Run uses, without writing. Each row sees the
// writes earlier rows of the batch would make.
func (im *Importer) Preview(ctx context.Context, text string, source Source) (PendingImport, ImportSummary) {
	records := Tokenize(text)
	return im.PreviewRecords(ctx, records, text, source)
}

// PreviewRecords is Preview for already tokenized records (XLSX uploads).
func (im *Importer) PreviewRecords(ctx context.Context, records [][]string, text string, source Source) (PendingImport, ImportSummary) {
	p := PendingImport{
		ID:        uuid.NewString(),
		Source:    source,
		CreatedAt: im.now(),
		Text:      text,
		Rows:      NormalizeRecords(records),
	}
	if len(records) > 0 {
		p.DetectedColumns = DetectedColumns(records[0])
	}

	pending := newPendingStore(im.store)
	rec := NewReconciler(pending)
	var sum ImportSummary
	for i := range p.Rows {
		row := &p.Rows[i]
		out := RowOutcome{RowNumber: row.RowNumber, Incoming: row.Input()}
		row.Errors = Validate(*row)
		if len(row.Errors) > 0 {
			row.Action = ActionError
			out.Action, out.Errors = ActionError, row.Errors
			sum.add(out)
			continue
		}
		d, err := rec.Classify(ctx, row.Input())
		if err == nil {
			err = pending.stage(ctx, d)
		}
		existing := persisted(d.Existing)
		if err != nil {
			row.Action = ActionError
			row.Errors = []string{err.Error()}
			row.Existing = existing
			out.Action, out.Errors, out.Existing = ActionError, row.Errors, existing
			sum.add(out)
			continue
		}
		row.Action, row.Existing = d.Action, existing
		out.Action, out.Existing = d.Action, existing
		if existing != nil {
			out.MatchID = existing.ID
		}
		sum.add(out)
	}
	return p, sum
}

// Run reconciles rows in input order. Rows failing validation are reported
// as errors and never reach the reconciler. In per-row mode one row's
// failure does not stop the rest.
func (im *Importer) Run(ctx context.Context, rows []ImportRow, source Source, actorID *int64) ImportSummary {
	if im.mode == CommitBatch {
		return im.runBatch(ctx, rows, source, actorID)
	}
	sum, _ := im.runRows(ctx, NewReconciler(im.store), rows, source, actorID)
	return sum
}

// runRows also returns how many rows failed in the reconciler, as opposed
// to validation.
func (im *Importer) runRows(ctx context.Context, rec *Reconciler, rows []ImportRow, source Source, actorID *int64) (ImportSummary, int) {
	var (
		sum    ImportSummary
		failed int
	)
	for _, row := range rows {
		out := RowOutcome{RowNumber: row.RowNumber, Incoming: row.Input()}
		if errs := Validate(row); len(errs) > 0 {
			out.Action, out.Errors = ActionError, errs
			sum.add(out)
			continue
		}
		action, id, err := rec.Apply(ctx, row.Input(), source, actorID)
		if err != nil {
			rowErr := &RowError{RowNumber: row.RowNumber, Err: err}
			im.logger.Warn("import row failed", zap.Int("row", row.RowNumber), zap.Error(rowErr))
			out.Action, out.Errors = ActionError, []string{err.Error()}
			sum.add(out)
			failed++
			continue
		}
		out.Action, out.MatchID = action, id
		sum.add(out)
	}
	return sum, failed
}

func (im *Importer) runBatch(ctx context.Context, rows []ImportRow, source Source, actorID *int64) ImportSummary {
	var sum ImportSummary
	err := im.store.InTx(ctx, func(s Store) error {
		var failed int
		sum, failed = im.runRows(ctx, NewReconciler(s), rows, source, actorID)
		if failed > 0 {
			return errBatchAborted
		}
		return nil
	})
	if err == nil {
		return sum
	}

	reason := "rolled back: another row failed"
	if !errors.Is(err, errBatchAborted) {
		reason = "rolled back: " + err.Error()
	}
	rolled := ImportSummary{}
	for _, o := range sum.Rows {
		if o.Action != ActionError {
			o.Action, o.MatchID, o.Errors = ActionError, 0, []string{reason}
		}
		rolled.add(o)
	}
	if len(sum.Rows) == 0 {
		// the transaction could not even start
		for _, row := range rows {
			rolled.add(RowOutcome{RowNumber: row.RowNumber, Incoming: row.Input(), Action: ActionError, Errors: []string{reason}})
		}
	}
	return rolled
}

// Commit applies a pending import and records it in the imports table.
func (im *Importer) Commit(ctx context.Context, p PendingImport, actorID *int64) ImportSummary {
	source := p.Source
	if source == "" {
		source = SourceCSVPaste
	}
	sum := im.Run(ctx, p.Rows, source, actorID)

	if im.recorder != nil && sum.Inserted+sum.Updated+sum.Skipped > 0 {
		if err := im.recorder.RecordImport(ctx, actorID, p.Text, len(p.Rows)); err != nil {
			im.logger.Warn("record import", zap.String("import_id", p.ID), zap.Error(err))
		}
	}
	im.logger.Info("import committed",
		zap.String("import_id", p.ID),
		zap.String("source", string(source)),
		zap.String("mode", string(im.mode)),
		zap.Int("inserted", sum.Inserted),
		zap.Int("updated", sum.Updated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errors", sum.Errors),
	)
	return sum
}
