package logging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"
)

// LevelCritical is logged when the receiver as a whole stops working. It
// sits above slog.LevelError and is written with level "critical".
const LevelCritical = slog.LevelError + 4

// criticalLevel is the zerolog level that filters LevelCritical records.
// Records are written without calling zerolog's fatal hooks.
const criticalLevel = zerolog.FatalLevel

// SlogHandler lets the module log through the slog API while zerolog does
// the writing. Attributes added with WithAttrs are rendered once into the
// zerolog context; open groups become a dotted key prefix ("assoc.peer.ae").
type SlogHandler struct {
	logger zerolog.Logger
	prefix string
}

// NewSlogHandlerWithLogger wraps logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSlogHandlerWithLogger(logger zerolog.Logger) *SlogHandler {
	return &SlogHandler{logger: logger}
}

func (h *SlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= slogToZerologLevel(level)
}

//nolint:gocritic // slog.Record is passed by value per slog.Handler interface
func (h *SlogHandler) Handle(_ context.Context, record slog.Record) error {
	var event *zerolog.Event
	if record.Level >= LevelCritical {
		if h.logger.GetLevel() > criticalLevel {
			return nil
		}
		event = h.logger.Log().Str(zerolog.LevelFieldName, "critical")
	} else {
		event = h.logger.WithLevel(slogToZerologLevel(record.Level))
	}
	if event == nil {
		return nil
	}

	fields := make([]any, 0, 2*record.NumAttrs())
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendFields(fields, h.prefix, attr)
		return true
	})
	event.Fields(fields).Msg(record.Message)
	return nil
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return &SlogHandler{
		logger: h.logger.With().Fields(appendFields(nil, h.prefix, attrs...)).Logger(),
		prefix: h.prefix,
	}
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &SlogHandler{logger: h.logger, prefix: h.prefix + name + "."}
}

// appendFields flattens attrs into zerolog's key/value field list. Group
// attributes extend the prefix; empty attributes are dropped.
func appendFields(dst []any, prefix string, attrs ...slog.Attr) []any {
	for _, attr := range attrs {
		attr.Value = attr.Value.Resolve()
		if attr.Equal(slog.Attr{}) {
			continue
		}
		if attr.Value.Kind() == slog.KindGroup {
			nested := prefix
			if attr.Key != "" {
				nested += attr.Key + "."
			}
			dst = appendFields(dst, nested, attr.Value.Group()...)
			continue
		}

		value := attr.Value.Any()
		if attr.Value.Kind() == slog.KindAny {
			if _, isErr := value.(error); !isErr {
				if s, ok := value.(fmt.Stringer); ok {
					value = s.String()
				}
			}
		}
		dst = append(dst, prefix+attr.Key, value)
	}
	return dst
}

func slogToZerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelDebug:
		return zerolog.TraceLevel
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	case level < LevelCritical:
		return zerolog.ErrorLevel
	default:
		return criticalLevel
	}
}
