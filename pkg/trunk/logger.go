package trunk

import (
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
)

// pebbleLogger routes engine messages into slog. Pebble is chatty at info,
// so its info lines are logged at debug.
type pebbleLogger struct {
	logger *slog.Logger
}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "pebble")
}

func (l pebbleLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "pebble")
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Error(msg, "component", "pebble", "fatal", true)
	panic(errors.AssertionFailedf("pebble: %s", msg))
}
