package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// DefaultModel is used when OpenAIConfig.Model is empty.
const DefaultModel = "gpt-4o"

// ErrNoAPIKey is returned by NewOpenAI when no key is configured.
var ErrNoAPIKey = errors.New("openai resolver: api key is required")

// OpenAIConfig configures the tool-calling resolver.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAI resolves commands by asking a chat model to pick one of the
// session tools. The first tool call wins; a reply with no tool call is a
// fallback.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAI builds a resolver from cfg. An API key is required.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing openai resolver", "model", model)
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

const systemPrompt = `You control a live audio looping session. Pick exactly one tool for the user's command.
Track ids look like track_0, track_1. Volume runs from 0.0 to 1.0. Reverb and delay run from 0 to 100.
Current session: %s`

// toolOperations maps tool names to dispatcher operations.
var toolOperations = map[string]string{
	"record":                  OpStartRecording,
	"stop_recording":          OpStopRecording,
	"undo":                    OpUndo,
	"modify_track_volume":     OpSetTrackParameter,
	"modify_track_reverb":     OpSetTrackParameter,
	"modify_track_delay":      OpSetTrackParameter,
	"toggle_track_playback":   OpTogglePlayback,
	"generate_new_music":      OpGenerateTrack,
	"get_creative_suggestion": OpSuggest,
}

func (o *OpenAI) Resolve(ctx context.Context, summary, text string) (Intent, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, summary)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Tools: sessionTools(),
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Intent{}, fmt.Errorf("openai chat completion: %w", err)
	}
	o.logger.Debug("openai resolved", "elapsed", time.Since(start), "choices", len(resp.Choices))

	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return Fallback(), nil
	}
	call := resp.Choices[0].Message.ToolCalls[0].Function
	op, ok := toolOperations[call.Name]
	if !ok {
		o.logger.Warn("openai picked unknown tool", "tool", call.Name)
		return Fallback(), nil
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			o.logger.Warn("openai tool arguments unparseable", "tool", call.Name, "error", err)
			return Fallback(), nil
		}
	}
	return Intent{Operation: op, Args: args}, nil
}

func trackIDProperty(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: desc}
}

func tool(name, desc string, props map[string]jsonschema.Definition, required ...string) openai.Tool {
	if props == nil {
		props = map[string]jsonschema.Definition{}
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        name,
			Description: desc,
			Parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: props,
				Required:   required,
			},
		},
	}
}

func sessionTools() []openai.Tool {
	const modifyID = "The ID of the track to modify, e.g., 'track_0'."
	return []openai.Tool{
		tool("record", "Start recording a new audio loop.", nil),
		tool("stop_recording", "Stop recording and save the loop.", nil),
		tool("undo", "Undo the most recent action, reverting the session to its previous state.", nil),
		tool("modify_track_volume", "Change the volume of a specific track.", map[string]jsonschema.Definition{
			ArgTrackID: trackIDProperty(modifyID),
			ArgVolume:  {Type: jsonschema.Number, Description: "The new volume level, from 0.0 to 1.0."},
		}, ArgTrackID, ArgVolume),
		tool("modify_track_reverb", "Apply a reverb effect to a specific track.", map[string]jsonschema.Definition{
			ArgTrackID: trackIDProperty(modifyID),
			ArgReverb:  {Type: jsonschema.Number, Description: "The new reverb level, from 0.0 to 100.0."},
		}, ArgTrackID, ArgReverb),
		tool("modify_track_delay", "Apply a delay effect to a specific track.", map[string]jsonschema.Definition{
			ArgTrackID: trackIDProperty(modifyID),
			ArgDelay:   {Type: jsonschema.Number, Description: "The new delay level, from 0.0 to 100.0."},
		}, ArgTrackID, ArgDelay),
		tool("toggle_track_playback", "Mute or unmute a specific track.", map[string]jsonschema.Definition{
			ArgTrackID: trackIDProperty("The ID of the track to mute or unmute, e.g., 'track_0'."),
		}, ArgTrackID),
		tool("generate_new_music", "Generate a new musical piece using AI.", map[string]jsonschema.Definition{
			ArgPrompt: {Type: jsonschema.String, Description: "A description of the music to generate, e.g., 'a funky bassline'."},
		}, ArgPrompt),
		tool("get_creative_suggestion", "Get a creative suggestion for what to add to the current session.", nil),
	}
}
