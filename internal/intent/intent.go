// Package intent turns free-text commands into a named operation plus its
// arguments.
package intent

import (
	"context"
	"log/slog"
	"strings"
)

// Operation names understood by the dispatcher.
const (
	OpStartRecording    = "start_recording"
	OpStopRecording     = "stop_recording"
	OpSetTrackParameter = "set_track_parameter"
	OpTogglePlayback    = "toggle_playback"
	OpUndo              = "undo"
	OpGenerateTrack     = "generate_track"
	OpSuggest           = "get_creative_suggestion"
	OpLoadState         = "load_state"
	OpFallback          = "fallback"
)

// Argument keys.
const (
	ArgTrackID = "track_id"
	ArgVolume  = "volume"
	ArgReverb  = "reverb"
	ArgDelay   = "delay"
	ArgPrompt  = "prompt"
)

// Intent is a resolved command.
type Intent struct {
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args,omitempty"`
}

// Fallback is the intent for anything that could not be understood.
func Fallback() Intent { return Intent{Operation: OpFallback} }

// Resolver maps command text, given a summary of the current session, to an
// Intent.
type Resolver interface {
	Resolve(ctx context.Context, summary, text string) (Intent, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, summary, text string) (Intent, error)

func (f ResolverFunc) Resolve(ctx context.Context, summary, text string) (Intent, error) {
	return f(ctx, summary, text)
}

// FastPath handles commands that must not wait for a model round trip:
// the literal "record" and "stop_recording" texts, and an empty command,
// which reloads the current state. Everything else goes to next.
type FastPath struct {
	Next   Resolver
	Logger *slog.Logger
}

func (f FastPath) Resolve(ctx context.Context, summary, text string) (Intent, error) {
	switch strings.TrimSpace(text) {
	case "":
		return Intent{Operation: OpLoadState}, nil
	case "record":
		f.log("fast path", "operation", OpStartRecording)
		return Intent{Operation: OpStartRecording}, nil
	case "stop_recording":
		f.log("fast path", "operation", OpStopRecording)
		return Intent{Operation: OpStopRecording}, nil
	}
	if f.Next == nil {
		return Fallback(), nil
	}
	return f.Next.Resolve(ctx, summary, text)
}

func (f FastPath) log(msg string, args ...any) {
	if f.Logger != nil {
		f.Logger.Debug(msg, args...)
	}
}
