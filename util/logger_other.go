//go:build !linux
// +build !linux

package util

import (
	"io"
	"log"
	"os"
)

var logWriter io.Writer = os.Stderr

// GetLogWriter returns the writer the standard logger writes to, so gin can
// share it.
func GetLogWriter() io.Writer {
	return logWriter
}

// SetupLogging keeps the standard logger on stderr. journald only exists on
// Linux.
func SetupLogging(withJournald bool) {
	if withJournald {
		log.Println("Warning: journald logging is only available on Linux, logging to stderr")
	}
}
