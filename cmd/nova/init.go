package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// defaultConfigYAML is written by "nova init" as a starting point.
const defaultConfigYAML = `# Nova configuration

listen:
  address: ""      # bind address, empty = all interfaces
  port: 8080

gemini:
  # api_key can also come from the GEMINI_API_KEY environment variable.
  api_key: ${GEMINI_API_KEY}
  model: gemini-2.5-flash

companion:
  quiet_period: 2m         # how long before Nova re-engages
  welcome_after_hours: 1   # absence threshold for a welcome-back
  history_window: 10       # transcript messages sent as reply context
  muted: false

speech:
  command: ""              # e.g. "say" (macOS) or "espeak" (Linux)

data_dir: .
log_level: info
`

// runInit initializes a Nova working directory. Existing files are
// never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Nova workspace in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, []byte(defaultConfigYAML)); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml and set your Gemini API key, then run: nova chat")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, 0o644)
}
