package matches

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func xlsxFixture(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	sh := f.GetSheetName(0)
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		row := r
		require.NoError(t, f.SetSheetRow(sh, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParseXLSX_Basic(t *testing.T) {
	b := xlsxFixture(t,
		[]any{"Match #", "Date", "Opponent", "Home-Away", "Place"},
		[]any{"7", "2025-10-18", "Freccia Nera", "away", "Bar Sport"},
	)
	records, err := parseXLSX(b)
	require.NoError(t, err)
	require.Len(t, records, 2)

	rows := NormalizeRecords(records)
	require.Len(t, rows, 1)
	assert.Empty(t, Validate(rows[0]))
	assert.Equal(t, "7", rows[0].MatchNumber.Value)
	assert.Equal(t, "away", rows[0].HomeOrAway.Value)

	text := encodeCSV(records)
	assert.True(t, strings.HasPrefix(text, "Match #,Date,Opponent,Home-Away,Place\n"))
	assert.Equal(t, rows, Normalize(text))
}

func TestParseXLSX_Garbage(t *testing.T) {
	_, err := parseXLSX([]byte("not a zip"))
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	url := "https://maps.example.com/pub"
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []Match{
		{ID: 1, MatchNumber: 3, Date: "2025-03-01", OpponentsTeam: "Lupi, Grigi", HomeOrAway: "home", PlaceText: url, PlaceURL: &url, Source: SourceManual},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(exportHeader, ","), lines[0])
	assert.Equal(t, `1,3,2025-03-01,"Lupi, Grigi",home,`+url+`,`+url+`,manual`, lines[1])
}

func TestWriteICS(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, WriteICS(&buf, []Match{
		{ID: 4, MatchNumber: 12, Date: "2025-03-01", OpponentsTeam: "Lupi; Grigi", HomeOrAway: "away", PlaceText: "Bar, Sport"},
		{ID: 5, MatchNumber: 13, Date: "someday", OpponentsTeam: "X", HomeOrAway: "home"},
	}, now))
	out := buf.String()
	assert.Contains(t, out, "BEGIN:VCALENDAR\r\n")
	assert.Contains(t, out, "DTSTAMP:20250102T030405Z\r\n")
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20250301\r\n")
	assert.Contains(t, out, "DTEND;VALUE=DATE:20250302\r\n")
	assert.Contains(t, out, `SUMMARY:#12 Lupi\; Grigi (away)`)
	assert.Contains(t, out, `LOCATION:Bar\, Sport`)
	assert.NotContains(t, out, "match-5@", "undated matches are left out")
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VEVENT"))
}
