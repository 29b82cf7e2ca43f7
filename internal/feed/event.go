// Package feed implements the live terminal feed: a bounded ring
// buffer of redacted log events with non-blocking fanout to bounded
// subscriber queues and an optional cross-replica distributor.
package feed

import (
	"strings"
	"time"
)

// Event is one terminal feed line. Immutable once constructed;
// redaction and truncation happen exactly once, at ingestion.
type Event struct {
	TS       string `json:"ts"`
	Source   string `json:"source"`
	Level    string `json:"level"`
	Message  string `json:"message"`
	Instance string `json:"instance"`
}

var levelRank = map[string]int{
	"DEBUG":    10,
	"INFO":     20,
	"WARNING":  30,
	"ERROR":    40,
	"CRITICAL": 50,
}

const defaultRank = 20

// LevelRank maps a level name to its severity rank; unknown levels
// rank as INFO.
func LevelRank(level string) int {
	if r, ok := levelRank[strings.ToUpper(level)]; ok {
		return r
	}
	return defaultRank
}

// NormalizeLevel uppercases a level name, falling back to the default
// and then to INFO for unknown values.
func NormalizeLevel(raw, fallback string) string {
	candidate := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := levelRank[candidate]; ok {
		return candidate
	}
	fallback = strings.ToUpper(strings.TrimSpace(fallback))
	if _, ok := levelRank[fallback]; ok {
		return fallback
	}
	return "INFO"
}

// ParseSourceFilter turns a comma-separated source list into an
// allow-set; nil means "all sources".
func ParseSourceFilter(raw string) map[string]struct{} {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := map[string]struct{}{}
	for _, item := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(item); v != "" {
			out[v] = struct{}{}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Matches reports whether the event passes a level floor and an
// optional source allow-set.
func (e Event) Matches(minLevel string, sources map[string]struct{}) bool {
	if sources != nil {
		if _, ok := sources[e.Source]; !ok {
			return false
		}
	}
	return LevelRank(e.Level) >= LevelRank(minLevel)
}

func nowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
