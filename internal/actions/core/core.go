package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Stdout is where workflow commands are written.
var Stdout io.Writer = os.Stdout

// IsActions reports whether we are running inside a GitHub Actions job.
func IsActions() bool {
	return os.Getenv("GITHUB_ACTIONS") == "true"
}

// SetSecret hides a string in the Actions logs by outputting a special escape sequence.
func SetSecret(value string) {
	if value == "" {
		return
	}
	fmt.Fprintln(Stdout, "::add-mask::"+value)
}

// Error logs an error to the Actions log.
func Error(message string) {
	fmt.Fprintln(Stdout, "::error::"+message)
}

// StartGroup starts a new collapsible group on the Actions log.
func StartGroup(name string) {
	fmt.Fprintln(Stdout, "::group::"+name)
}

// EndGroup ends the current collapsible group on the Actions log.
func EndGroup() {
	fmt.Fprintln(Stdout, "::endgroup::")
}

// SetOutput sets a step output. Values are appended to the file named by GITHUB_OUTPUT using the
// multi-line delimiter syntax, since the CA certificate spans several lines.
func SetOutput(name, value string) error {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open GITHUB_OUTPUT: %w", err)
	}
	defer f.Close()

	delimiter := "ghadelimiter_" + randomHex()
	if strings.Contains(name, delimiter) || strings.Contains(value, delimiter) {
		return fmt.Errorf("unexpected delimiter collision for output %s", name)
	}
	_, err = fmt.Fprintf(f, "%s<<%s\n%s\n%s\n", name, delimiter, value, delimiter)
	return err
}

func randomHex() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
