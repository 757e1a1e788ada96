package matches

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fullRow() ImportRow {
	f := func(v string) Field { return Field{Value: v, Present: true} }
	return ImportRow{
		RowNumber:     1,
		MatchNumber:   f("3"),
		Date:          f("2025-05-05"),
		OpponentsTeam: f("Team E"),
		HomeOrAway:    f("home"),
		Place:         f("Bar"),
	}
}

func TestValidate(t *testing.T) {
	assert.Empty(t, Validate(fullRow()))

	r := fullRow()
	r.Place = Field{}
	r.Date = Field{Value: "", Present: true}
	assert.Equal(t, []string{"Missing date", "Missing place"}, Validate(r))

	r = fullRow()
	r.MatchNumber.Value = "3a"
	assert.Equal(t, []string{"match_number must be an integer"}, Validate(r))

	r = fullRow()
	r.MatchNumber = Field{}
	assert.Equal(t, []string{"Missing match_number"}, Validate(r))

	for _, v := range []string{"0", "-3"} {
		r = fullRow()
		r.MatchNumber.Value = v
		assert.Equal(t, []string{"match_number must be a positive integer"}, Validate(r), v)
	}
}
