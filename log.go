package downpour

import (
	"github.com/cenkalti/log"

	"github.com/downpour-dl/downpour/internal/logger"
)

// SetLogLevel changes the level of the global log handler.
func SetLogLevel(l log.Level) {
	logger.SetLevel(l)
}
