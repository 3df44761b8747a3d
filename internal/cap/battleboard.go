package cap

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// battleboardFeed mirrors the simplified per-region summary feed used as the
// last-resort discovery fallback. Entries carry prose only, no geometry.
type battleboardFeed struct {
	XMLName xml.Name           `xml:"feed"`
	Entries []battleboardEntry `xml:"entry"`
}

type battleboardEntry struct {
	ID      string          `xml:"id"`
	Title   string          `xml:"title"`
	Summary string          `xml:"summary"`
	Updated string          `xml:"updated"`
	Link    battleboardLink `xml:"link"`
}

type battleboardLink struct {
	Href string `xml:"href,attr"`
}

// ParseBattleboard converts the secondary feed into geometry-less Alerts.
// Placeholder "no watches or warnings" entries are dropped. Matching against
// these alerts relies entirely on the name-fallback tier.
func ParseBattleboard(raw []byte, sourcePath string) ([]*Alert, error) {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "cap: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var feed battleboardFeed
	if err := decoder.Decode(&feed); err != nil {
		return nil, eris.Wrapf(err, "cap: decode battleboard feed %s", sourcePath)
	}

	var alerts []*Alert
	for _, entry := range feed.Entries {
		title := strings.TrimSpace(entry.Title)
		if title == "" || strings.Contains(strings.ToLower(title), "no watches or warnings") {
			continue
		}

		alert := &Alert{
			ID:          strings.TrimSpace(entry.ID),
			Title:       title,
			Description: strings.TrimSpace(entry.Summary),
			Severity:    SeverityUnknown,
			Urgency:     UrgencyUnknown,
			Certainty:   CertaintyUnknown,
			Sent:        parseTime(entry.Updated),
			SourcePath:  sourcePath,
			Link:        strings.TrimSpace(entry.Link.Href),
			Areas:       []Area{{Description: regionFromTitle(title)}},
		}
		if alert.ID == "" {
			alert.ID = fallbackID(sourcePath + "#" + title)
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// regionFromTitle extracts the region clause from feed titles shaped like
// "Severe thunderstorm warning in effect, City of Example". When no comma is
// present the whole title serves as the area description.
func regionFromTitle(title string) string {
	if idx := strings.LastIndex(title, ","); idx >= 0 && idx+1 < len(title) {
		if region := strings.TrimSpace(title[idx+1:]); region != "" {
			return region
		}
	}
	return title
}
