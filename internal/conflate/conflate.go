// Package conflate reduces a raw alert collection to one current record per
// logical event, collapsing the issue/update/cancel lifecycle.
package conflate

import (
	"strings"

	"github.com/capwatch/capwatch/internal/cap"
)

// statusTokens are the status/tense fragments stripped from headlines when
// computing the grouping key. Longer phrases come first so that removing
// "in effect" never leaves a stray "in". French equivalents cover bilingual
// feeds.
var statusTokens = []string{
	"in effect",
	"mis à jour",
	"en vigueur",
	"avertissement",
	"terminated",
	"cancelled",
	"canceled",
	"statement",
	"advisory",
	"bulletin",
	"updated",
	"annulé",
	"terminé",
	"warning",
	"veille",
	"issued",
	"ended",
	"watch",
	"émis",
	"avis",
}

// cancelTokens mark a headline as a cancellation/termination notice.
var cancelTokens = []string{
	"ended",
	"cancelled",
	"canceled",
	"terminated",
	"annulé",
	"annulée",
	"terminé",
	"terminée",
}

// BaseTitle computes the deduplication key for a headline: lowercased,
// status tokens removed, whitespace collapsed.
func BaseTitle(title string) string {
	s := strings.ToLower(title)
	for _, tok := range statusTokens {
		s = strings.ReplaceAll(s, tok, " ")
	}
	return strings.Join(strings.Fields(s), " ")
}

// Cancelled reports whether the headline carries a cancellation token.
func Cancelled(title string) bool {
	s := strings.ToLower(title)
	for _, tok := range cancelTokens {
		if strings.Contains(s, tok) {
			return true
		}
	}
	return false
}

// Reduce collapses alerts to one record per base-title group. Within a
// group an active alert always beats a cancelled one, whatever their
// timestamps; inside a status class the most recently sent record wins
// (effective time standing in when sent is absent). Output order is
// unspecified. Reduce is idempotent.
func Reduce(alerts []*cap.Alert) []*cap.Alert {
	groups := make(map[string][]*cap.Alert)
	var order []string
	for _, a := range alerts {
		if a == nil {
			continue
		}
		key := BaseTitle(a.Title)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], a)
	}

	out := make([]*cap.Alert, 0, len(groups))
	for _, key := range order {
		if winner := pickWinner(groups[key]); winner != nil {
			out = append(out, winner)
		}
	}
	return out
}

func pickWinner(group []*cap.Alert) *cap.Alert {
	var active, cancelled []*cap.Alert
	for _, a := range group {
		if Cancelled(a.Title) {
			cancelled = append(cancelled, a)
		} else {
			active = append(active, a)
		}
	}
	if len(active) > 0 {
		return mostRecent(active)
	}
	return mostRecent(cancelled)
}

// mostRecent picks the alert with the latest timestamp; alerts without any
// timestamp sort oldest.
func mostRecent(alerts []*cap.Alert) *cap.Alert {
	if len(alerts) == 0 {
		return nil
	}
	best := alerts[0]
	for _, a := range alerts[1:] {
		at, bt := a.BestTimestamp(), best.BestTimestamp()
		switch {
		case at == nil:
		case bt == nil:
			best = a
		case at.After(*bt):
			best = a
		}
	}
	return best
}
