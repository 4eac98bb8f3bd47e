package worker

import (
	"log"
	"os"
	"strings"
	"sync/atomic"
)

var workerDebugEnabled atomic.Bool

func init() {
	workerDebugEnabled.Store(strings.EqualFold(os.Getenv("CODESMITH_WORKER_DEBUG"), "1"))
}

// SetDebug turns per-turn debug logging on or off.
func SetDebug(enabled bool) {
	workerDebugEnabled.Store(enabled)
}

func debugLog(format string, args ...interface{}) {
	if workerDebugEnabled.Load() {
		log.Printf(format, args...)
	}
}
