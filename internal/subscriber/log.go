package subscriber

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
)

// LogFactory builds "log" subscribers, which write one line per event.
// Params: level (debug, info, warn; default info).
type LogFactory struct {
	Logger *slog.Logger // nil = slog.Default()
}

func (LogFactory) Type() string { return "log" }

func (LogFactory) Validate(params map[string]interface{}) error {
	_, err := logLevel(params)
	return err
}

func (f LogFactory) New(name string, params map[string]interface{}) (Subscriber, error) {
	level, err := logLevel(params)
	if err != nil {
		return nil, err
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{name: name, level: level, logger: logger.With("subscriber", name)}, nil
}

func logLevel(params map[string]interface{}) (slog.Level, error) {
	s, err := stringParam(params, "level", "info")
	if err != nil {
		return 0, fmt.Errorf("log: %w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log: %w", err)
	}
	return level, nil
}

// Log writes node events to a slog.Logger.
type Log struct {
	name   string
	level  slog.Level
	logger *slog.Logger
}

func (l *Log) Name() string { return l.name }

func (l *Log) Deliver(ctx context.Context, b *event.Batch) error {
	for _, ev := range b.Events {
		attrs := []any{
			"bus", b.Bus,
			"generation", ev.Generation,
			"kind", ev.Kind,
			"phy_id", ev.Node.PhyID,
			"handle", ev.Node.Handle,
			"link_on", ev.Node.LinkOn,
			"speed", ev.Node.MaxSpeed,
		}
		if ev.Parent != nil {
			attrs = append(attrs, "parent_phy_id", ev.Parent.PhyID)
		}
		l.logger.Log(ctx, l.level, "node event", attrs...)
	}
	return nil
}
