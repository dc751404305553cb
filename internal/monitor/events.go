// File: internal/monitor/events.go
package monitor

import (
	"go.uber.org/zap"

	"github.com/buttonwatcher/wbw/api/schemas"
)

// CallbackSink adapts plain functions to the EventSink interface. Nil
// callbacks are allowed and skipped.
type CallbackSink struct {
	Log    func(schemas.LogEvent)
	Change func(schemas.ChangeEvent)
}

func (s CallbackSink) OnLog(event schemas.LogEvent) {
	if s.Log != nil {
		s.Log(event)
	}
}

func (s CallbackSink) OnChange(event schemas.ChangeEvent) {
	if s.Change != nil {
		s.Change(event)
	}
}

// LoggerSink forwards session events to a zap logger. The default sink
// for CLI hosts.
type LoggerSink struct {
	logger *zap.Logger
}

// NewLoggerSink wraps the given logger as an EventSink.
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger.Named("session")}
}

func (s *LoggerSink) OnLog(event schemas.LogEvent) {
	switch event.Level {
	case schemas.LevelWarn:
		s.logger.Warn(event.Message)
	case schemas.LevelError:
		s.logger.Error(event.Message)
	default:
		s.logger.Info(event.Message)
	}
}

func (s *LoggerSink) OnChange(event schemas.ChangeEvent) {
	fields := []zap.Field{
		zap.String("element_id", event.ElementID),
		zap.String("label", event.Label),
		zap.String("new_text", event.Current.Text),
		zap.Bool("new_enabled", event.Current.Enabled),
	}
	if event.Previous != nil {
		fields = append(fields,
			zap.String("old_text", event.Previous.Text),
			zap.Bool("old_enabled", event.Previous.Enabled),
		)
	}
	s.logger.Info("Button changed", fields...)
}

// MultiSink fans one event stream out to several sinks in order.
type MultiSink []schemas.EventSink

func (m MultiSink) OnLog(event schemas.LogEvent) {
	for _, s := range m {
		s.OnLog(event)
	}
}

func (m MultiSink) OnChange(event schemas.ChangeEvent) {
	for _, s := range m {
		s.OnChange(event)
	}
}
