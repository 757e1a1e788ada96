package matches

import (
	"encoding/csv"
	"regexp"
	"strings"
)

// Column is one of the canonical fields a match row carries.
type Column string

const (
	ColMatchNumber   Column = "match_number"
	ColDate          Column = "date"
	ColOpponentsTeam Column = "opponents_team"
	ColHomeOrAway    Column = "home_or_away"
	ColPlace         Column = "place"
)

// Columns lists the required canonical columns in display order.
var Columns = []Column{ColMatchNumber, ColDate, ColOpponentsTeam, ColHomeOrAway, ColPlace}

// OrigPrefix prefixes provenance keys; such keys are never semantic columns.
const OrigPrefix = "_orig_"

// OrigKey returns the provenance key for col, e.g. "_orig_date".
func OrigKey(col Column) string { return OrigPrefix + string(col) }

// Field is an optional cell value. Present is false when the column was
// absent from the header or the row was too short.
type Field struct {
	Value   string `json:"value"`
	Present bool   `json:"present"`
}

// ImportRow is an in-memory candidate produced by the normalizer.
// It is never persisted directly.
type ImportRow struct {
	RowNumber     int   `json:"row_number"`
	MatchNumber   Field `json:"match_number"`
	Date          Field `json:"date"`
	OpponentsTeam Field `json:"opponents_team"`
	HomeOrAway    Field `json:"home_or_away"`
	Place         Field `json:"place"`

	// Orig keeps the untouched cell under OrigKey(col).
	Orig map[string]string `json:"orig,omitempty"`
	// Extra holds cells of unrecognized columns, keyed by normalized header.
	Extra map[string]string `json:"extra,omitempty"`

	Errors   []string `json:"errors,omitempty"`
	Action   Action   `json:"action,omitempty"`
	Existing *Match   `json:"matched_existing,omitempty"`
}

// Field returns the value stored for col.
func (r ImportRow) Field(col Column) Field {
	switch col {
	case ColMatchNumber:
		return r.MatchNumber
	case ColDate:
		return r.Date
	case ColOpponentsTeam:
		return r.OpponentsTeam
	case ColHomeOrAway:
		return r.HomeOrAway
	case ColPlace:
		return r.Place
	}
	return Field{}
}

func (r *ImportRow) set(col Column, f Field) {
	switch col {
	case ColMatchNumber:
		r.MatchNumber = f
	case ColDate:
		r.Date = f
	case ColOpponentsTeam:
		r.OpponentsTeam = f
	case ColHomeOrAway:
		r.HomeOrAway = f
	case ColPlace:
		r.Place = f
	}
}

// Input converts the row to a reconciler candidate.
func (r ImportRow) Input() MatchInput {
	return MatchInput{
		MatchNumber:   r.MatchNumber.Value,
		Date:          r.Date.Value,
		OpponentsTeam: r.OpponentsTeam.Value,
		HomeOrAway:    r.HomeOrAway.Value,
		Place:         r.Place.Value,
	}
}

// headerAliases maps known header spellings to canonical columns. Keys are
// normalized with normalizeKey when the lookup table is built.
var headerAliases = map[string]Column{
	"matchnumber":    ColMatchNumber,
	"match_num":      ColMatchNumber,
	"matchno":        ColMatchNumber,
	"match":          ColMatchNumber,
	"match_number":   ColMatchNumber,
	"date":           ColDate,
	"opponent":       ColOpponentsTeam,
	"opponents":      ColOpponentsTeam,
	"opponents_team": ColOpponentsTeam,
	"home_or_away":   ColHomeOrAway,
	"home-away":      ColHomeOrAway,
	"homeoraway":     ColHomeOrAway,
	"place":          ColPlace,
}

var (
	aliasByKey      = map[string]Column{}
	aliasByStripped = map[string]Column{}
)

func init() {
	for alias, col := range headerAliases {
		k := normalizeKey(alias)
		aliasByKey[k] = col
		aliasByStripped[strings.ReplaceAll(k, "_", "")] = col
	}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeKey lower-cases h, collapses non-alphanumeric runs to "_" and
// trims leading/trailing underscores: "Match #" -> "match".
func normalizeKey(h string) string {
	s := strings.ToLower(strings.TrimSpace(h))
	s = nonAlnum.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// CanonicalHeader resolves a raw header. ok is false when the header is not
// one of the canonical columns; key is then the normalized header.
func CanonicalHeader(h string) (key string, col Column, ok bool) {
	key = normalizeKey(h)
	if c, found := aliasByKey[key]; found {
		return string(c), c, true
	}
	if c, found := aliasByStripped[strings.ReplaceAll(key, "_", "")]; found {
		return string(c), c, true
	}
	return key, "", false
}

// rowStart matches whitespace followed by what looks like the first cell
// of a data row ("12,").
var rowStart = regexp.MustCompile(`\s+(\d+,)`)

var digitComma = regexp.MustCompile(`\d+,`)

// RepairSingleLine fixes pastes where the row breaks were lost: when the
// text has no newline but contains a digit-comma sequence, every whitespace
// run before such a sequence becomes a newline. Text that already has a
// newline is only trimmed. This is a heuristic: a cell like "Via Roma 12,"
// would be split too.
func RepairSingleLine(text string) string {
	s := strings.TrimSpace(text)
	if strings.Contains(s, "\n") || !digitComma.MatchString(s) {
		return s
	}
	return rowStart.ReplaceAllString(s, "\n$1")
}

// Normalize parses pasted CSV-like text into rows keyed by canonical
// column. It never fails: malformed input yields fewer rows or columns,
// which the validator then reports.
func Normalize(text string) []ImportRow {
	return NormalizeRecords(Tokenize(text))
}

// NormalizeRecords maps already tokenized records (header first) to rows.
func NormalizeRecords(records [][]string) []ImportRow {
	if len(records) < 2 {
		return nil
	}
	type target struct {
		key string
		col Column
		ok  bool
	}
	header := make([]target, len(records[0]))
	for i, h := range records[0] {
		key, col, ok := CanonicalHeader(h)
		header[i] = target{key: key, col: col, ok: ok}
	}

	var out []ImportRow
	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		row := ImportRow{RowNumber: len(out) + 1, Orig: map[string]string{}}
		for i, h := range header {
			if i >= len(rec) {
				break
			}
			raw := rec[i]
			if !h.ok {
				if h.key == "" || strings.HasPrefix(h.key, OrigPrefix) {
					continue
				}
				if row.Extra == nil {
					row.Extra = map[string]string{}
				}
				row.Extra[h.key] = strings.TrimSpace(raw)
				continue
			}
			row.set(h.col, Field{Value: strings.TrimSpace(raw), Present: true})
			row.Orig[OrigKey(h.col)] = raw
		}
		out = append(out, row)
	}
	return out
}

// DetectedColumns lists the normalized header keys, canonical ones mapped
// to their column name, in header order without duplicates.
func DetectedColumns(header []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, h := range header {
		key, _, _ := CanonicalHeader(h)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

// tokenize splits text into records, sniffing ';' vs ',' from the header
// line. A tokenizer error keeps the records read so far.
func tokenize(text string) [][]string {
	first := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}
	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	if strings.Count(first, ";") > strings.Count(first, ",") {
		reader.Comma = ';'
	}

	var records [][]string
	for {
		rec, err := reader.Read()
		if err != nil {
			// io.EOF or a tokenizer defect; keep what was read
			break
		}
		records = append(records, rec)
	}
	return records
}

// Tokenize exposes the tokenizer for callers that need the raw header.
func Tokenize(text string) [][]string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return tokenize(RepairSingleLine(text))
}

func isBlank(rec []string) bool {
	return strings.TrimSpace(strings.Join(rec, "")) == ""
}
