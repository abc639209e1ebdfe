package rslog

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
)

// SetupLogLevels sets the default subsystem levels. GOLOG_LOG_LEVEL, when
// set, wins over the defaults.
func SetupLogLevels() {
	if _, set := os.LookupEnv("GOLOG_LOG_LEVEL"); set {
		return
	}

	_ = logging.SetLogLevel("*", "INFO")
	_ = logging.SetLogLevel("swarm2", "WARN")
	_ = logging.SetLogLevel("connmgr", "WARN")
	_ = logging.SetLogLevel("net/identify", "ERROR")
	_ = logging.SetLogLevel("rpc", "WARN")
	_ = logging.SetLogLevel("cborrpc", "WARN")
}
