package matches

import "time"

// Source records which path created or last wrote a match.
type Source string

const (
	SourceManual   Source = "manual"
	SourceCSVPaste Source = "csv-paste"
	SourceXLSX     Source = "xlsx-upload"
)

// Match is a persisted row of the matches table.
type Match struct {
	ID            int64      `json:"id"`
	MatchNumber   int64      `json:"match_number"`
	Date          string     `json:"date"`
	OpponentsTeam string     `json:"opponents_team"`
	HomeOrAway    string     `json:"home_or_away"`
	PlaceText     string     `json:"place_text"`
	PlaceURL      *string    `json:"place_parsed_url"`
	Source        Source     `json:"source_import"`
	CreatedBy     *int64     `json:"created_by"`
	CreatedAt     *time.Time `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at"`
}

// Place returns the URL form when present, else the text.
func (m Match) Place() string {
	if m.PlaceURL != nil && *m.PlaceURL != "" {
		return *m.PlaceURL
	}
	return m.PlaceText
}

// MatchInput is an un-normalized candidate, as typed or pasted.
type MatchInput struct {
	MatchNumber   string `json:"match_number"`
	Date          string `json:"date"`
	OpponentsTeam string `json:"opponents_team"`
	HomeOrAway    string `json:"home_or_away"`
	Place         string `json:"place"`
}

// Action is the planned (insert/update/skip) or applied
// (inserted/updated/skipped) outcome for a row; error covers both.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
	ActionError  Action = "error"

	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
	ActionSkipped  Action = "skipped"
)

// Applied maps a planned action to its past-tense form.
func (a Action) Applied() Action {
	switch a {
	case ActionInsert:
		return ActionInserted
	case ActionUpdate:
		return ActionUpdated
	case ActionSkip:
		return ActionSkipped
	}
	return a
}

// RowOutcome is what the presentation layer renders for one row.
type RowOutcome struct {
	RowNumber int        `json:"row_number"`
	Errors    []string   `json:"errors,omitempty"`
	Action    Action     `json:"action"`
	MatchID   int64      `json:"match_id,omitempty"`
	Existing  *Match     `json:"matched_existing,omitempty"`
	Incoming  MatchInput `json:"incoming"`
}

// ImportSummary aggregates a batch. Counts use planned actions in a
// preview and applied actions after a commit.
type ImportSummary struct {
	Inserted int          `json:"inserted"`
	Updated  int          `json:"updated"`
	Skipped  int          `json:"skipped"`
	Errors   int          `json:"errors"`
	Rows     []RowOutcome `json:"rows"`
}

func (s *ImportSummary) add(o RowOutcome) {
	switch o.Action {
	case ActionInsert, ActionInserted:
		s.Inserted++
	case ActionUpdate, ActionUpdated:
		s.Updated++
	case ActionSkip, ActionSkipped:
		s.Skipped++
	default:
		s.Errors++
	}
	s.Rows = append(s.Rows, o)
}
