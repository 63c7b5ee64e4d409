package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// runExport handles "nova export <file>": a one-shot backup without
// starting a session.
func runExport(ctx context.Context, stdout, stderr io.Writer, configPath, path string) error {
	a, err := buildApp(ctx, stderr, configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	return a.exportBackup(path, stdout)
}

// runImport handles "nova import <file>". The confirmation prompt
// reads from stdin; piping "y" works for scripted restores.
func runImport(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath, path string) error {
	a, err := buildApp(ctx, stderr, configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	reader := bufio.NewReader(stdin)
	confirm := func(memories, messages int) (bool, error) {
		fmt.Fprintf(stdout, "Found %d memories and %d messages. Overwrite current state? [y/N] ", memories, messages)
		answer, err := reader.ReadString('\n')
		if err != nil && answer == "" {
			return false, nil
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes", nil
	}

	return a.importBackup(ctx, path, confirm, stdout)
}
