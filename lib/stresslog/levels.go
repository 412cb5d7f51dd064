package stresslog

import (
	"os"
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var setupOnce sync.Once

// SetupLogLevels applies the default levels the first time it is called.
// Concurrent callers block until that first call is done; later calls are
// no-ops. GOLOG_LOG_LEVEL, when set, wins over the defaults.
func SetupLogLevels() {
	setupOnce.Do(setupLogLevels)
}

func setupLogLevels() {
	if _, set := os.LookupEnv("GOLOG_LOG_LEVEL"); set {
		return
	}

	_ = logging.SetLogLevel("*", "INFO")
	_ = logging.SetLogLevel("basicfs", "WARN")
	_ = logging.SetLogLevel("sbmock", "WARN")
	_ = logging.SetLogLevel("cachecheck", "WARN")
}
