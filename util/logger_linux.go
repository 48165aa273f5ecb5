//go:build linux
// +build linux

package util

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// journaldWriter sends each log line to journald, tagged with the component
// that wrote it.
type journaldWriter struct{}

func (w *journaldWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSuffix(string(p), "\n")
	component, severity := parseLogLine(msg)

	vars := map[string]string{"SYSLOG_IDENTIFIER": Name}
	if component != "" {
		vars["COMPONENT"] = component
	}
	if err := journal.Send(msg, journalPriority(severity), vars); err != nil {
		return fmt.Fprintf(os.Stderr, "%s", p)
	}
	return len(p), nil
}

func journalPriority(s logSeverity) journal.Priority {
	switch s {
	case severityError:
		return journal.PriErr
	case severityWarning:
		return journal.PriWarning
	default:
		return journal.PriInfo
	}
}

var logWriter io.Writer = os.Stderr

// GetLogWriter returns the writer the standard logger writes to, so gin can
// share it.
func GetLogWriter() io.Writer {
	return logWriter
}

// SetupLogging routes the standard logger to journald when asked to and
// journald is reachable.
func SetupLogging(withJournald bool) {
	if !withJournald {
		return
	}
	if !journal.Enabled() {
		log.Println("Warning: journald is not reachable, logging to stderr")
		return
	}

	writer := &journaldWriter{}
	logWriter = writer
	log.SetOutput(writer)
	log.SetFlags(0) // journald stamps entries itself
	log.Println("Logging to journald")
}
