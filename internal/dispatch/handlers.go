package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"jamsession/looper/internal/intent"
	"jamsession/looper/internal/session"
)

// Spoken responses.
const (
	MsgBeginningOfHistory = "You are at the beginning of the history."
	MsgNotUnderstood      = "I'm not sure how to do that."
	MsgGenerationFailed   = "I wasn't able to create any music right now."

	MsgSuggestDrums = "How about starting with a simple drum beat?"
	MsgSuggestBass  = "A funky bassline might sound cool on top of that."
)

// Deps are the collaborators the default handlers need.
type Deps struct {
	Tree      Tree
	Generator Generator

	// AssetPath returns a fresh destination for a generated track number.
	AssetPath func(n int) string

	GenerateTimeout time.Duration
	Logger          *slog.Logger
}

// NewTable builds the standard handler table.
func NewTable(deps Deps) Table {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.AssetPath == nil {
		deps.AssetPath = func(n int) string {
			return fmt.Sprintf("generated_track_%d_%s.mp3", n, uuid.NewString()[:8])
		}
	}
	if deps.GenerateTimeout <= 0 {
		deps.GenerateTimeout = DefaultGenerateTimeout
	}
	h := &handlers{deps: deps}
	return Table{
		Handlers: map[HandlerID]Handler{
			HandlerRecord:       startRecording,
			HandlerStopRecord:   stopRecording,
			HandlerSetParameter: setTrackParameter,
			HandlerToggle:       togglePlayback,
			HandlerUndo:         h.undo,
			HandlerGenerate:     h.generateTrack,
			HandlerAnalyze:      analyze,
			HandlerSuggest:      suggest,
			HandlerLoadState:    loadState,
			HandlerFallback:     fallback,
		},
		Routes:  DefaultRoutes(),
		Chains:  DefaultChains(),
		Default: HandlerFallback,
	}
}

type handlers struct {
	deps Deps
}

func startRecording(ctx context.Context, in Input) (Result, error) {
	return Result{Directive: StartRecording{}}, nil
}

func stopRecording(ctx context.Context, in Input) (Result, error) {
	next := in.Snapshot.Clone()
	n := next.NextTrackID
	track := session.Track{
		ID:        session.TrackID(n),
		Name:      fmt.Sprintf("Loop %d", n),
		Volume:    1.0,
		IsPlaying: true,
	}
	next.Tracks = append(next.Tracks, track)
	next.NextTrackID++
	return Result{Directive: LoopCreated{Track: track.Clone()}, Snapshot: next, Mutated: true}, nil
}

// parameterPriority decides which value is applied when several are given.
var parameterPriority = []string{session.ParamVolume, session.ParamReverb, session.ParamDelay}

func setTrackParameter(ctx context.Context, in Input) (Result, error) {
	trackID, err := stringArg(in.Args, intent.ArgTrackID)
	if err != nil {
		return Result{}, err
	}
	idx := in.Snapshot.FindTrack(trackID)
	if idx < 0 {
		return Result{}, fmt.Errorf("%w: no track %q", ErrInvalidArguments, trackID)
	}

	for _, param := range parameterPriority {
		raw, ok := in.Args[param]
		if !ok {
			continue
		}
		v, err := toFloat(raw)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, param, err)
		}
		next := in.Snapshot.Clone()
		stored, _ := next.Tracks[idx].SetParam(param, v)
		return Result{
			Directive: ParameterSet{TrackID: trackID, Param: param, Value: stored},
			Snapshot:  next,
			Mutated:   true,
		}, nil
	}
	return Result{}, fmt.Errorf("%w: no volume, reverb or delay given", ErrInvalidArguments)
}

func togglePlayback(ctx context.Context, in Input) (Result, error) {
	trackID, err := stringArg(in.Args, intent.ArgTrackID)
	if err != nil {
		return Result{}, err
	}
	idx := in.Snapshot.FindTrack(trackID)
	if idx < 0 {
		return Result{}, fmt.Errorf("%w: no track %q", ErrInvalidArguments, trackID)
	}
	next := in.Snapshot.Clone()
	t := &next.Tracks[idx]
	t.IsPlaying = !t.IsPlaying
	return Result{
		Directive: PlaybackToggled{TrackID: trackID, Muted: t.Muted(), Volume: t.Volume},
		Snapshot:  next,
		Mutated:   true,
	}, nil
}

// undo moves the client to the parent node. It reads history only.
func (h *handlers) undo(ctx context.Context, in Input) (Result, error) {
	parent, ok, err := h.deps.Tree.GetParent(ctx, in.NodeID)
	if err != nil {
		return Result{}, fmt.Errorf("undo from %s: %w", in.NodeID, err)
	}
	if !ok {
		return Result{Directive: Speak{Text: MsgBeginningOfHistory}}, nil
	}
	return Result{Directive: LoadState{State: *parent}, NodeID: parent.NodeID}, nil
}

func (h *handlers) generateTrack(ctx context.Context, in Input) (Result, error) {
	prompt, err := stringArg(in.Args, intent.ArgPrompt)
	if err != nil {
		return Result{}, err
	}
	if h.deps.Generator == nil {
		return Result{Directive: Speak{Text: MsgGenerationFailed}}, nil
	}

	n := in.Snapshot.NextTrackID
	dest := h.deps.AssetPath(n)

	genCtx, cancel := context.WithTimeout(ctx, h.deps.GenerateTimeout)
	defer cancel()
	start := time.Now()
	if err := h.deps.Generator.Generate(genCtx, prompt, dest); err != nil {
		err = fmt.Errorf("%w: %w", ErrCapability, err)
		h.deps.Logger.Warn("generation failed", "prompt", prompt, "elapsed", time.Since(start), "error", err)
		generationFailures.Inc()
		return Result{Directive: Speak{Text: MsgGenerationFailed}}, nil
	}

	next := in.Snapshot.Clone()
	path := dest
	track := session.Track{
		ID:        session.TrackID(n),
		Name:      fmt.Sprintf("AI Loop %d", n),
		Volume:    1.0,
		IsPlaying: true,
		Path:      &path,
	}
	next.Tracks = append(next.Tracks, track)
	next.NextTrackID++
	return Result{Directive: TrackAdded{Track: track.Clone()}, Snapshot: next, Mutated: true}, nil
}

// analyze characterizes the session size and hands the text to suggest.
func analyze(ctx context.Context, in Input) (Result, error) {
	var summary string
	switch n := len(in.Snapshot.Tracks); n {
	case 0:
		summary = "The session is currently empty."
	case 1:
		summary = "There is currently one loop playing."
	default:
		summary = fmt.Sprintf("There are %d tracks playing together.", n)
	}
	return Result{Next: HandlerSuggest, Analysis: summary}, nil
}

func suggest(ctx context.Context, in Input) (Result, error) {
	analysis := in.Analysis
	if analysis == "" {
		analysis = "The session is empty."
	}
	if strings.Contains(analysis, "empty") {
		return Result{Directive: Speak{Text: MsgSuggestDrums}}, nil
	}
	return Result{Directive: Speak{Text: MsgSuggestBass}}, nil
}

func loadState(ctx context.Context, in Input) (Result, error) {
	return Result{Directive: LoadState{State: *in.Snapshot.Clone()}}, nil
}

func fallback(ctx context.Context, in Input) (Result, error) {
	return Result{Directive: Speak{Text: MsgNotUnderstood}}, nil
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidArguments, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, not a string", ErrInvalidArguments, key, raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidArguments, key)
	}
	return s, nil
}

var errNotNumber = errors.New("not a number")

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, errNotNumber
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, errNotNumber
		}
		f = parsed
	default:
		return 0, errNotNumber
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotNumber
	}
	return f, nil
}
