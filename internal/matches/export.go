package matches

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var exportHeader = []string{"id", "match_number", "date", "opponents_team", "home_or_away", "place_text", "place_parsed_url", "source_import"}

// WriteCSV writes matches with a header row.
func WriteCSV(w io.Writer, list []Match) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, m := range list {
		rec := []string{
			strconv.FormatInt(m.ID, 10),
			strconv.FormatInt(m.MatchNumber, 10),
			m.Date, m.OpponentsTeam, m.HomeOrAway, m.PlaceText, sval(m.PlaceURL), string(m.Source),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var icsEscaper = strings.NewReplacer(`\`, `\\`, ",", `\,`, ";", `\;`, "\n", `\n`)

// WriteICS writes an iCalendar feed with one all-day event per dated match.
// Lines end in CRLF.
func WriteICS(w io.Writer, list []Match, now time.Time) error {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\r\n")
	}
	line("BEGIN:VCALENDAR")
	line("VERSION:2.0")
	line("PRODID:-//darts-planner//EN")
	line("CALSCALE:GREGORIAN")

	stamp := now.UTC().Format("20060102T150405Z")
	for _, m := range list {
		day, err := time.Parse("2006-01-02", m.Date)
		if err != nil {
			// undated or free-form dates cannot be placed on a calendar
			continue
		}
		summary := fmt.Sprintf("#%d %s (%s)", m.MatchNumber, m.OpponentsTeam, m.HomeOrAway)

		line("BEGIN:VEVENT")
		line("UID:match-%d@darts-planner", m.ID)
		line("DTSTAMP:%s", stamp)
		line("DTSTART;VALUE=DATE:%s", day.Format("20060102"))
		line("DTEND;VALUE=DATE:%s", day.AddDate(0, 0, 1).Format("20060102"))
		line("SUMMARY:%s", icsEscaper.Replace(summary))
		if m.PlaceText != "" {
			line("LOCATION:%s", icsEscaper.Replace(m.PlaceText))
		}
		if m.PlaceURL != nil && *m.PlaceURL != "" {
			line("URL:%s", *m.PlaceURL)
		}
		line("END:VEVENT")
	}
	line("END:VCALENDAR")

	_, err := io.WriteString(w, b.String())
	return err
}
