package system

import (
	"io"

	"github.com/btcsuite/btclog/v2"
)

// Subsystem is the logging subsystem tag for the system package.
const Subsystem = "ACTS"

// log is the package-level logger. It defaults to disabled until the
// binary wires a real logger via UseLogger.
var log = btclog.NewSLogger(btclog.NewDefaultHandler(io.Discard))

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}
