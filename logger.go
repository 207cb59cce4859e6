package afkak

import (
	"io"
	"log"
)

// Logger is the minimal interface this package logs through. It
// matches the shape of the standard library's *log.Logger so callers
// can wire in whatever logging stack they already run by implementing
// these three methods, rather than this package imposing one on them.
type Logger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
	Println(v ...interface{})
}

// logger is the package-wide default, silent until a caller replaces
// it via SetLogger; WithLogger overrides it for one Producer only. Kept as a package variable (rather than forcing
// every call site to thread one through) to match the producer
// domain's own convention of a single swappable log seam.
var logger Logger = log.New(io.Discard, "", 0)

// SetLogger replaces the package-wide default logger. It is provided
// for parity with the sarama-lineage convention of a package-level
// logger var; per-Producer logging should prefer WithLogger.
func SetLogger(l Logger) {
	if l == nil {
		return
	}
	logger = l
}
