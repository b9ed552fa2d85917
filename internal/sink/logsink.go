package sink

import (
	"context"

	logx "retrotrack/pkg/logx"
)

// LogDestination is the reserved destination name served by LogSink.
const LogDestination = "log"

// LogSink writes payloads to the structured log. Useful as a dry-run
// destination and in development configs.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Handles(destination string) bool { return destination == LogDestination }

func (s *LogSink) Send(ctx context.Context, destination string, p Payload) error {
	fields := []logx.Field{
		logx.String("title", p.Title),
		logx.Time("observed_at", p.ObservedAt),
	}
	for _, f := range p.Fields {
		fields = append(fields, logx.String(f.Name, f.Value))
	}
	s.log.Info("notification", fields...)
	return nil
}
