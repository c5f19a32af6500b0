package intent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFastPath(t *testing.T) {
	var calls int
	next := ResolverFunc(func(ctx context.Context, summary, text string) (Intent, error) {
		calls++
		return Intent{Operation: OpUndo}, nil
	})
	fp := FastPath{Next: next}

	tests := []struct {
		text string
		want string
	}{
		{"", OpLoadState},
		{"   ", OpLoadState},
		{"record", OpStartRecording},
		{"stop_recording", OpStopRecording},
		{"take it back", OpUndo},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := fp.Resolve(context.Background(), "", tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Operation)
		})
	}
	assert.Equal(t, 1, calls, "only the non-literal command should reach the next resolver")

	got, err := FastPath{}.Resolve(context.Background(), "", "do something")
	require.NoError(t, err)
	assert.Equal(t, OpFallback, got.Operation)
}

func TestKeyword(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"", Intent{Operation: OpLoadState}},
		{"undo that", Intent{Operation: OpUndo}},
		{"go back one step", Intent{Operation: OpUndo}},
		{"start recording", Intent{Operation: OpStartRecording}},
		{"stop recording now", Intent{Operation: OpStopRecording}},
		{"give me a suggestion", Intent{Operation: OpSuggest}},
		{"Generate a funky bassline!", Intent{Operation: OpGenerateTrack, Args: map[string]any{ArgPrompt: "a funky bassline"}}},
		{"mute track 1", Intent{Operation: OpTogglePlayback, Args: map[string]any{ArgTrackID: "track_1"}}},
		{"unmute loop #3", Intent{Operation: OpTogglePlayback, Args: map[string]any{ArgTrackID: "track_3"}}},
		{"set the volume of track 0 to 50%", Intent{Operation: OpSetTrackParameter, Args: map[string]any{ArgTrackID: "track_0", ArgVolume: 0.5}}},
		{"volume track_2 0.25", Intent{Operation: OpSetTrackParameter, Args: map[string]any{ArgTrackID: "track_2", ArgVolume: 0.25}}},
		{"reverb on track_2 at 40", Intent{Operation: OpSetTrackParameter, Args: map[string]any{ArgTrackID: "track_2", ArgReverb: 40.0}}},
		{"add delay to track 1, 30 percent", Intent{Operation: OpSetTrackParameter, Args: map[string]any{ArgTrackID: "track_1", ArgDelay: 30.0}}},
		{"turn the volume up", Intent{Operation: OpSetTrackParameter, Args: map[string]any{}}},
		{"make a funky bass line", Intent{Operation: OpGenerateTrack, Args: map[string]any{ArgPrompt: "funky bass line"}}},
		{"compose", Fallback()},
		{"make all tracks quieter", Fallback()},
		{"recreate that", Fallback()},
		{"volume track 1 80", Intent{Operation: OpSetTrackParameter, Args: map[string]any{ArgTrackID: "track_1", ArgVolume: 0.8}}},
		{"volume track 1 1.5", Intent{Operation: OpSetTrackParameter, Args: map[string]any{ArgTrackID: "track_1", ArgVolume: 1.5}}},
		{"volume track 1 to 1", Intent{Operation: OpSetTrackParameter, Args: map[string]any{ArgTrackID: "track_1", ArgVolume: 1.0}}},
		{"what's the weather like", Fallback()},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := Keyword{}.Resolve(context.Background(), "", tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// fakeChat serves a single canned chat completion and records the request.
func fakeChat(t *testing.T, status int, message map[string]any, seen *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "boom", "type": "server_error"}})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   DefaultModel,
			"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": "tool_calls"}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func toolCallMessage(name, args string) map[string]any {
	return map[string]any{
		"role": "assistant",
		"tool_calls": []map[string]any{{
			"id":       "call_1",
			"type":     "function",
			"function": map[string]any{"name": name, "arguments": args},
		}},
	}
}

func newTestOpenAI(t *testing.T, srv *httptest.Server) *OpenAI {
	t.Helper()
	r, err := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL + "/v1", Timeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	return r
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{}, nil)
	require.ErrorIs(t, err, ErrNoAPIKey)
}

func TestOpenAI_ToolCall(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := fakeChat(t, http.StatusOK, toolCallMessage("modify_track_volume", `{"track_id":"track_0","volume":0.4}`), &req)

	got, err := newTestOpenAI(t, srv).Resolve(context.Background(), "There is currently one loop playing.", "turn track zero down")
	require.NoError(t, err)
	assert.Equal(t, OpSetTrackParameter, got.Operation)
	assert.Equal(t, "track_0", got.Args[ArgTrackID])
	assert.Equal(t, 0.4, got.Args[ArgVolume])

	assert.Equal(t, DefaultModel, req.Model)
	assert.Len(t, req.Tools, len(toolOperations))
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[0].Content, "one loop playing")
	assert.Equal(t, "turn track zero down", req.Messages[1].Content)
}

func TestOpenAI_ToolMapping(t *testing.T) {
	tests := []struct {
		tool string
		want string
	}{
		{"record", OpStartRecording},
		{"stop_recording", OpStopRecording},
		{"undo", OpUndo},
		{"modify_track_reverb", OpSetTrackParameter},
		{"modify_track_delay", OpSetTrackParameter},
		{"toggle_track_playback", OpTogglePlayback},
		{"generate_new_music", OpGenerateTrack},
		{"get_creative_suggestion", OpSuggest},
		{"launch_rockets", OpFallback},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			srv := fakeChat(t, http.StatusOK, toolCallMessage(tt.tool, "{}"), nil)
			got, err := newTestOpenAI(t, srv).Resolve(context.Background(), "", "x")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Operation)
		})
	}
}

func TestOpenAI_NoToolCall(t *testing.T) {
	srv := fakeChat(t, http.StatusOK, map[string]any{"role": "assistant", "content": "I can't help with that."}, nil)
	got, err := newTestOpenAI(t, srv).Resolve(context.Background(), "", "sing me a song")
	require.NoError(t, err)
	assert.Equal(t, Fallback(), got)
}

func TestOpenAI_BadArguments(t *testing.T) {
	srv := fakeChat(t, http.StatusOK, toolCallMessage("modify_track_volume", "{not json"), nil)
	got, err := newTestOpenAI(t, srv).Resolve(context.Background(), "", "x")
	require.NoError(t, err)
	assert.Equal(t, OpFallback, got.Operation)
}

func TestOpenAI_ServerError(t *testing.T) {
	srv := fakeChat(t, http.StatusInternalServerError, nil, nil)
	_, err := newTestOpenAI(t, srv).Resolve(context.Background(), "", "x")
	require.Error(t, err)
	var apiErr *openai.APIError
	assert.True(t, errors.As(err, &apiErr), "expected an APIError, got %T: %v", err, err)
}
