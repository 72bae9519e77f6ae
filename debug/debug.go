package debug

import (
	"log"
	"os"
	"strconv"
	"sync/atomic"
)

// EnvVar turns tracing on when it parses as a true boolean.
const EnvVar = "NOTEBOOKWS_DEBUG"

var enabled atomic.Bool

func init() {
	if v, ok := os.LookupEnv(EnvVar); ok {
		if on, err := strconv.ParseBool(v); err == nil {
			enabled.Store(on)
		}
	}
}

// Printf logs through the standard logger when tracing is on.
func Printf(format string, v ...interface{}) {
	if enabled.Load() {
		log.Printf(format, v...)
	}
}

func Enabled() bool {
	return enabled.Load()
}

func Enable() {
	enabled.Store(true)
}

func Disable() {
	enabled.Store(false)
}
