// File: cmd/retumi/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/retumi/cmd"
	"github.com/xkilldash9x/retumi/internal/browser"
	"github.com/xkilldash9x/retumi/internal/observability"
)

const panicLogFile = "panic.log"

const prompt = "retumi > "

const banner = `retumi %s: text-mode browsing with page scripts.
Enter a URL or a file path; "exit" or "quit" leaves.

`

// Define function variables for dependency injection/mocking in tests.
var (
	osWriteFile = os.WriteFile
	// Allows mocking os.Exit in tests.
	osExit = os.Exit
)

// main is the entry point of the application.
func main() {
	defer handlePanic()

	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM) for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// If arguments are passed, execute the command directly and exit.
	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				osExit(0)
				return
			}
			fmt.Fprintln(os.Stderr, "Error:", err)
			osExit(1)
		}
		return
	}

	if err := interactive(ctx, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		osExit(1)
	}
}

// interactive runs the prompt loop. All pages share one browser, so the
// script engine is created once for the whole session.
func interactive(ctx context.Context, in io.Reader, out, errOut io.Writer) (err error) {
	cfg, err := cmd.LoadConfig("")
	if err != nil {
		return err
	}
	observability.InitializeLogger(cfg.Logger)
	logger := observability.GetLogger()
	defer observability.Sync()

	if cfg.Render.Width == 0 {
		cfg.Render.Width = cmd.TerminalWidth(out)
	}

	b, err := browser.New(cfg, logger, browser.WithConsoleWriter(errOut))
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := b.Close(cctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fmt.Fprintf(out, banner, cmd.Version)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			break // EOF (Ctrl+D)
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		page, err := b.Browse(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// A bad target does not end the session.
			fmt.Fprintln(errOut, "Error:", err)
			continue
		}
		if err := cmd.WritePage(out, page, false); err != nil {
			return err
		}
		if page.Err != nil {
			logger.Error("Scripts stopped early", zap.String("url", page.URL), zap.Error(page.Err))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading from stdin: %w", err)
	}
	fmt.Fprintln(out, "Exiting retumi.")
	return nil
}

// handlePanic records an unrecovered panic to panic.log before exiting.
func handlePanic() {
	if r := recover(); r != nil {
		// Ensure logs are flushed before proceeding.
		observability.Sync()

		panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())

		if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
			// If logging fails, print to stderr as a fallback.
			fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
			fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
			osExit(1)
			return // Return facilitates testing when osExit is mocked.
		}

		fmt.Fprintf(os.Stderr, "retumi crashed. Details logged to %s\n", panicLogFile)
		osExit(2)
	}
}
