package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiBlue   = "\033[34m"
)

var titleCaser = cases.Title(language.English)

// statusLabel turns a stored status such as "partially_failed" into
// "Partially Failed".
func statusLabel(status string) string {
	status = strings.TrimSpace(strings.ReplaceAll(status, "_", " "))
	if status == "" {
		return "Unknown"
	}
	return titleCaser.String(status)
}

func statusColor(status string) string {
	switch status {
	case "ready", "succeeded", "ok":
		return ansiGreen
	case "partially_failed", "running", "processing", "optional":
		return ansiYellow
	case "failed", "missing":
		return ansiRed
	case "pending", "uploaded":
		return ansiBlue
	default:
		return ""
	}
}

// paint renders a status label, colored when colorize is set.
func paint(status string, colorize bool) string {
	label := statusLabel(status)
	if !colorize {
		return label
	}
	color := statusColor(status)
	if color == "" {
		return label
	}
	return color + label + ansiReset
}

func shouldColorize(writer io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
