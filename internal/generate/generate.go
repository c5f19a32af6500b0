// Package generate provides the music generation capabilities a session can
// call to render a new loop from a prompt.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable is returned by the capability used when generation is
// switched off.
var ErrUnavailable = errors.New("music generation is not configured")

// Generator renders prompt into the file at dest. On success dest must hold
// a playable asset.
type Generator interface {
	Generate(ctx context.Context, prompt, dest string) error
}

// Kind names a generator implementation in configuration.
type Kind string

const (
	KindPlaceholder Kind = "placeholder"
	KindCommand     Kind = "command"
	KindNone        Kind = "none"
)

func (k Kind) String() string { return string(k) }

// Unavailable always fails.
type Unavailable struct{}

func (Unavailable) Generate(ctx context.Context, prompt, dest string) error {
	return ErrUnavailable
}

// Placeholder "generates" by copying a seed audio file. It stands in for a
// real service during development.
type Placeholder struct {
	Source string
}

func (p Placeholder) Generate(ctx context.Context, prompt, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(p.Source)
	if err != nil {
		return fmt.Errorf("opening placeholder %s: %w", p.Source, err)
	}
	defer src.Close()
	return writeAtomic(dest, src)
}

// AssetPath returns a fresh destination for track number n inside dir. The
// random suffix keeps sibling forks from overwriting each other's assets.
func AssetPath(dir string, n int, ext string) string {
	if ext == "" {
		ext = ".mp3"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return filepath.Join(dir, fmt.Sprintf("generated_track_%d_%s%s", n, suffix, ext))
}

// writeAtomic copies r into a temp file next to dest and renames it into
// place, so a failed copy never leaves a truncated asset behind.
func writeAtomic(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating asset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".gen-*")
	if err != nil {
		return fmt.Errorf("creating temp asset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing asset: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("moving asset into place: %w", err)
	}
	return nil
}

// Options selects and configures a generator.
type Options struct {
	Kind        Kind
	Placeholder string
	Command     string
	Args        []string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// New builds the generator named by opts.Kind.
func New(opts Options) (Generator, error) {
	switch opts.Kind {
	case KindNone, "":
		return Unavailable{}, nil
	case KindPlaceholder:
		if opts.Placeholder == "" {
			return nil, errors.New("generate: placeholder kind needs a source file")
		}
		return Placeholder{Source: opts.Placeholder}, nil
	case KindCommand:
		if opts.Command == "" {
			return nil, errors.New("generate: command kind needs a renderer path")
		}
		return Command{Path: opts.Command, Args: opts.Args, Timeout: opts.Timeout, Logger: opts.Logger}, nil
	default:
		return nil, fmt.Errorf("generate: unknown kind %q", opts.Kind)
	}
}
