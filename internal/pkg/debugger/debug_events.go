package debugger

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// maxEventBytes caps how much of one event is logged; audio deltas run to kilobytes.
const maxEventBytes = 2048

// LogEvent logs a raw wire event at debug level, compacted when it is JSON. It does nothing
// unless the logger has debug enabled.
func LogEvent(logger *zap.Logger, direction string, eventData []byte) {
	if logger == nil || !logger.Core().Enabled(zapcore.DebugLevel) {
		return
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, eventData); err != nil {
		logger.Debug("Debug event data (not JSON)",
			zap.String("direction", direction),
			zap.ByteString("event", truncate(eventData)),
			zap.Error(err))
		return
	}
	logger.Debug("Debug event data",
		zap.String("direction", direction),
		zap.Int("bytes", len(eventData)),
		zap.ByteString("event", truncate(compact.Bytes())))
}

func truncate(b []byte) []byte {
	if len(b) <= maxEventBytes {
		return b
	}
	return b[:maxEventBytes]
}
