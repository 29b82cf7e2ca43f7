package feed

import "github.com/rs/zerolog"

// Hook bridges the process logger into the feed so operator logs show
// up in the terminal stream. Attach with logger.Hook(feed.NewHook(f)).
type Hook struct {
	feed   *Feed
	source string
}

// NewHook returns a zerolog hook publishing into the feed under the
// "gateway" source.
func NewHook(f *Feed) Hook {
	return Hook{feed: f, source: "gateway"}
}

// Run implements zerolog.Hook.
func (h Hook) Run(_ *zerolog.Event, level zerolog.Level, message string) {
	if h.feed == nil || message == "" || level == zerolog.NoLevel {
		return
	}
	h.feed.Publish(h.source, levelName(level), message)
}

func levelName(level zerolog.Level) string {
	switch level {
	case zerolog.DebugLevel, zerolog.TraceLevel:
		return "DEBUG"
	case zerolog.InfoLevel:
		return "INFO"
	case zerolog.WarnLevel:
		return "WARNING"
	case zerolog.ErrorLevel:
		return "ERROR"
	default:
		return "CRITICAL"
	}
}
