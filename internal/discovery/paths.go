package discovery

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// capDateFormat is the date segment of the remote tree:
// {base}/alerts/cap/{YYYYMMDD}/{OFFICE}/{HH}/{document}.
const capDateFormat = "20060102"

// DefaultOffices is the catalogue of issuing-office folder codes used for
// known-pattern probing and as a traversal bound.
var DefaultOffices = []string{
	"CWAO", // Montreal
	"CWTO", // Toronto
	"CWWG", // Winnipeg
	"CWVR", // Vancouver
	"CWEG", // Edmonton
	"CWHX", // Halifax
	"CWUL", // Quebec
	"CWNT", // Yellowknife
}

// DefaultSuffixes are the document names probed directly under each
// office/hour folder before any listing is consulted.
var DefaultSuffixes = []string{
	"alerts_e.cap",
	"bulletin_e.cap",
}

// DateURL returns the date-level folder URL (no trailing slash).
func DateURL(base string, date time.Time) string {
	return strings.TrimSuffix(base, "/") + "/alerts/cap/" + date.Format(capDateFormat)
}

// DocURL composes a full document URL from its path segments.
func DocURL(base string, date time.Time, office, hour, doc string) string {
	return fmt.Sprintf("%s/%s/%s/%s", DateURL(base, date), office, hour, doc)
}

// BattleboardURL addresses the simplified per-region summary feed.
func BattleboardURL(base, region string) string {
	return strings.TrimSuffix(base, "/") + "/rss-style/" + region + "_e.xml"
}

var dateSegment = regexp.MustCompile(`/20\d{6}(/)`)

// RewriteDate replaces the YYYYMMDD path segment with the target date,
// turning a previously successful path into today's candidate. Returns
// false when the path has no recognizable date segment.
func RewriteDate(path string, date time.Time) (string, bool) {
	if !dateSegment.MatchString(path) {
		return path, false
	}
	return dateSegment.ReplaceAllString(path, "/"+date.Format(capDateFormat)+"$1"), true
}

// recentHours returns up to max hour-folder names, newest first, counting
// back from the given time's UTC hour. The remote tree partitions by
// publication hour, so fresh documents cluster in the latest buckets.
func recentHours(now time.Time, max int) []string {
	if max <= 0 {
		return nil
	}
	if max > 24 {
		max = 24
	}
	hours := make([]string, 0, max)
	h := now.UTC().Hour()
	for i := 0; i < max; i++ {
		hours = append(hours, fmt.Sprintf("%02d", (h-i+24)%24))
	}
	return hours
}
