package util

import "strings"

type logSeverity int

const (
	severityInfo logSeverity = iota
	severityWarning
	severityError
)

// parseLogLine finds the component a log line was written by and how severe
// it is. Components prefix their lines as "Inbox: ..." or "[GIN] ...".
func parseLogLine(line string) (component string, severity logSeverity) {
	text := strings.TrimSpace(line)

	if strings.HasPrefix(text, "[") {
		if end := strings.IndexByte(text, ']'); end > 1 {
			component, text = text[1:end], strings.TrimSpace(text[end+1:])
		}
	} else if word, rest, ok := strings.Cut(text, ": "); ok && word != "" && !strings.ContainsAny(word, " \t") {
		switch strings.ToLower(word) {
		case "warning":
			return "", severityWarning
		case "error":
			return "", severityError
		}
		component, text = word, rest
	}

	lower := strings.ToLower(text)
	switch {
	case strings.HasPrefix(lower, "failed"), strings.HasPrefix(lower, "error"), strings.HasPrefix(lower, "panic"):
		severity = severityError
	case strings.HasPrefix(lower, "warning"):
		severity = severityWarning
	}
	return component, severity
}
