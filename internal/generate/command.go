package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	stderrLimit = 10 * 1024
	killGrace   = 3 * time.Second
)

// Command runs an external renderer binary:
//
//	<Path> <Args...> --prompt <prompt> --output <dest>
//
// The renderer must write the asset to dest and exit 0.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
	Logger  *slog.Logger
}

func (c Command) Generate(ctx context.Context, prompt, dest string) error {
	if c.Path == "" {
		return errors.New("generate: renderer path is empty")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.Args...), "--prompt", prompt, "--output", dest)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Env = filterSecrets(os.Environ())

	// SIGTERM first, SIGKILL after the grace period.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = killGrace

	stderr := &stderrTail{limit: stderrLimit}
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("renderer finished", "path", c.Path, "elapsed", time.Since(start), "error", err)

	if ctxErr := ctx.Err(); ctxErr != nil {
		os.Remove(dest)
		return fmt.Errorf("renderer %s: %w", c.Path, ctxErr)
	}
	if err != nil {
		os.Remove(dest)
		if msg := stderr.Message(); msg != "" {
			return fmt.Errorf("renderer %s: %w: %s", c.Path, err, msg)
		}
		return fmt.Errorf("renderer %s: %w", c.Path, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("renderer %s produced no output: %w", c.Path, err)
	}
	if info.Size() == 0 {
		os.Remove(dest)
		return fmt.Errorf("renderer %s produced an empty file", c.Path)
	}
	return nil
}

// filterSecrets drops credentials the renderer has no business seeing.
func filterSecrets(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		key := e
		if idx := strings.IndexByte(e, '='); idx >= 0 {
			key = e[:idx]
		}
		if key == "OPENAI_API_KEY" || strings.HasPrefix(key, "LOOPER_RESOLVER_") {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

// stderrTail keeps the last limit bytes written to it. Renderers tend to
// print the fatal line last, so the tail is the part worth reporting.
type stderrTail struct {
	mu      sync.Mutex
	data    []byte
	limit   int
	dropped int
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, p...)
	if over := len(t.data) - t.limit; over > 0 {
		t.dropped += over
		t.data = append(t.data[:0], t.data[over:]...)
	}
	return len(p), nil
}

// Message returns the trimmed tail, prefixed with a note when earlier
// output was discarded.
func (t *stderrTail) Message() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := strings.TrimSpace(string(t.data))
	if msg != "" && t.dropped > 0 {
		return fmt.Sprintf("[%d bytes of stderr omitted] %s", t.dropped, msg)
	}
	return msg
}
