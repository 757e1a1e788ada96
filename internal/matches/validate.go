package matches

import "strconv"

// Validate reports missing required columns and a match_number that is
// not a positive integer. A row with no errors may be reconciled.
func Validate(row ImportRow) []string {
	var errs []string
	for _, col := range Columns {
		if f := row.Field(col); !f.Present || f.Value == "" {
			errs = append(errs, "Missing "+string(col))
		}
	}
	if f := row.MatchNumber; f.Present && f.Value != "" {
		if n, err := strconv.ParseInt(f.Value, 10, 64); err != nil {
			errs = append(errs, "match_number must be an integer")
		} else if n < 1 {
			errs = append(errs, "match_number must be a positive integer")
		}
	}
	return errs
}
