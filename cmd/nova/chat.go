package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/novakit/nova/internal/backup"
	"github.com/novakit/nova/internal/engine"
	"github.com/novakit/nova/internal/events"
)

// runChat hosts an interactive terminal session. The transcript goes
// to stdout; structured logs go to stderr so the conversation stays
// readable.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	a, err := buildApp(ctx, stderr, configPath, true)
	if err != nil {
		return err
	}
	defer a.close()

	// Asynchronous assistant messages (re-engagement nudges) arrive
	// over the bus, not as return values.
	ch := a.bus.Subscribe(16)
	defer a.bus.Unsubscribe(ch)
	go func() {
		for evt := range ch {
			if evt.Kind == events.KindNudgeFired {
				if text, ok := evt.Data["text"].(string); ok {
					fmt.Fprintf(stdout, "\nnova> %s\nyou> ", text)
				}
			}
		}
	}()

	if msg := a.engine.Bootstrap(ctx); msg != nil {
		fmt.Fprintf(stdout, "nova> %s\n", msg.Text)
	}
	fmt.Fprintln(stdout, `(type /help for commands, /quit to leave)`)

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	fmt.Fprint(stdout, "you> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "/") {
			quit, err := a.handleSlashCommand(ctx, line, scanner, stdout)
			if err != nil {
				fmt.Fprintf(stdout, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			fmt.Fprint(stdout, "you> ")
			continue
		}

		if line == "" {
			fmt.Fprint(stdout, "you> ")
			continue
		}

		reply, err := a.engine.ProcessText(ctx, line)
		if err != nil {
			fmt.Fprintf(stdout, "error: %v\n", err)
		} else {
			fmt.Fprintf(stdout, "nova> %s\n", reply.Text)
		}
		fmt.Fprint(stdout, "you> ")
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	fmt.Fprintln(stdout)
	return nil
}

// handleSlashCommand executes one /command line. It returns quit=true
// when the session should end.
func (a *app) handleSlashCommand(ctx context.Context, line string, scanner *bufio.Scanner, stdout io.Writer) (quit bool, err error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprintln(stdout, "Commands:")
		fmt.Fprintln(stdout, "  /memories        List everything Nova remembers")
		fmt.Fprintln(stdout, "  /mute            Toggle spoken output")
		fmt.Fprintln(stdout, "  /export <file>   Save a backup of this session")
		fmt.Fprintln(stdout, "  /import <file>   Restore a backup (replaces everything)")
		fmt.Fprintln(stdout, "  /audio <file>    Send an audio file as a spoken message")
		fmt.Fprintln(stdout, "  /quit            Leave")
		return false, nil

	case "/memories":
		memories := a.engine.State().MemoriesNewestFirst()
		if len(memories) == 0 {
			fmt.Fprintln(stdout, "No memories yet. Tell me about yourself!")
			return false, nil
		}
		for _, m := range memories {
			fmt.Fprintf(stdout, "  [%s] %s (%s)\n", m.Category, m.Text, m.Timestamp.Format("2006-01-02"))
		}
		return false, nil

	case "/mute":
		muted := !a.engine.Muted()
		a.engine.SetMuted(muted)
		if muted {
			fmt.Fprintln(stdout, "Speech off.")
		} else {
			fmt.Fprintln(stdout, "Speech on.")
		}
		return false, nil

	case "/export":
		if len(args) == 0 {
			return false, errors.New("usage: /export <file>")
		}
		return false, a.exportBackup(args[0], stdout)

	case "/import":
		if len(args) == 0 {
			return false, errors.New("usage: /import <file>")
		}
		confirm := func(memories, messages int) (bool, error) {
			fmt.Fprintf(stdout, "Found %d memories and %d messages. Overwrite current state? [y/N] ", memories, messages)
			if !scanner.Scan() {
				return false, scanner.Err()
			}
			answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
			return answer == "y" || answer == "yes", nil
		}
		return false, a.importBackup(ctx, args[0], confirm, stdout)

	case "/audio":
		if len(args) == 0 {
			return false, errors.New("usage: /audio <file>")
		}
		audio, err := os.ReadFile(args[0])
		if err != nil {
			return false, fmt.Errorf("read audio: %w", err)
		}
		reply, err := a.engine.ProcessAudio(ctx, audio, mimeTypeFor(args[0]))
		if errors.Is(err, engine.ErrNothingHeard) {
			fmt.Fprintln(stdout, "I didn't catch anything in that recording. Try again?")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		// Echo what was heard, then the answer.
		msgs := a.engine.State().Messages()
		if len(msgs) >= 2 {
			fmt.Fprintf(stdout, "you (spoken)> %s\n", msgs[len(msgs)-2].Text)
		}
		fmt.Fprintf(stdout, "nova> %s\n", reply.Text)
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

// exportBackup writes the session to path.
func (a *app) exportBackup(path string, stdout io.Writer) error {
	doc := backup.Export(a.engine.State().Memories(), a.engine.State().Messages())
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	fmt.Fprintf(stdout, "Saved %d memories and %d messages to %s\n",
		len(doc.Memories), len(doc.Messages), path)
	return nil
}

// importBackup restores the session from path after confirmation.
func (a *app) importBackup(ctx context.Context, path string, confirm backup.ConfirmFunc, stdout io.Writer) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	doc, applied, err := backup.Import(ctx, raw, confirm, a.engine)
	if err != nil {
		return err
	}
	if !applied {
		fmt.Fprintln(stdout, "Import cancelled. Nothing changed.")
		return nil
	}
	fmt.Fprintf(stdout, "Restored %d memories and %d messages.\n",
		len(doc.Memories), len(doc.Messages))
	return nil
}

// mimeTypeFor guesses an audio MIME type from the file extension.
func mimeTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".mp3"):
		return "audio/mp3"
	case strings.HasSuffix(path, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(path, ".flac"):
		return "audio/flac"
	case strings.HasSuffix(path, ".webm"):
		return "audio/webm"
	default:
		return "audio/wav"
	}
}
