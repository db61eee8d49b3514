// File: cmd/retumi/main_test.go
package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	t.Run("should write the panic log", func(t *testing.T) {
		var written string
		var exitCode int
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = string(data)
			return nil
		}
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("engine exploded")
		}()

		assert.True(t, strings.HasPrefix(written, "panic: engine exploded\n\n"))
		assert.Contains(t, written, "goroutine")
		assert.Equal(t, 2, exitCode)
	})

	t.Run("should exit with failure when the log cannot be written", func(t *testing.T) {
		var exitCode int
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only") }
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("again")
		}()

		assert.Equal(t, 1, exitCode)
	})

	t.Run("should do nothing without a panic", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }
		func() {
			defer handlePanic()
		}()
		assert.False(t, called)
	})
}

func TestInteractive(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(page, []byte(`<title>Shell</title><p id="p">x</p><script>document.getElementById("p").textContent = "from script"; console.log("logged");</script>`), 0o600))

	in := strings.NewReader(strings.Join([]string{
		"",
		page,
		filepath.Join(dir, "missing.html"),
		page,
		"quit",
		"never reached",
	}, "\n"))
	var out, errOut bytes.Buffer

	require.NoError(t, interactive(context.Background(), in, &out, &errOut))

	text := out.String()
	assert.Equal(t, 2, strings.Count(text, "from script"), "both loads of the page render")
	assert.True(t, strings.HasSuffix(text, prompt+"Exiting retumi.\n"))
	assert.NotContains(t, text, "never reached")

	assert.Equal(t, 2, strings.Count(errOut.String(), "[JS console] logged"))
	assert.Contains(t, errOut.String(), "missing.html")
}

func TestInteractive_EOF(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, interactive(context.Background(), strings.NewReader(""), &out, &errOut))
	assert.Contains(t, out.String(), prompt)
	assert.Contains(t, out.String(), "Exiting retumi.")
}
