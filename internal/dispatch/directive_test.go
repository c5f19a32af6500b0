package dispatch

import (
	"encoding/json"
	"reflect"
	"testing"

	"jamsession/looper/internal/session"
)

func wire(t *testing.T, r Response) map[string]any {
	t.Helper()
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return out
}

func TestResponseJSON(t *testing.T) {
	path := "assets/generated_track_1_ab.mp3"
	loop := session.Track{ID: "track_0", Name: "Loop 0", Volume: 1, IsPlaying: true}
	trackJSON := map[string]any{
		"id": "track_0", "name": "Loop 0", "volume": 1.0, "is_playing": true,
		"path": nil, "reverb": 0.0, "delay": 0.0,
	}

	tests := []struct {
		name string
		d    Directive
		want map[string]any
	}{
		{"start recording", StartRecording{}, map[string]any{"action": "start_recording"}},
		{"loop created", LoopCreated{Track: loop}, map[string]any{
			"action": "stop_recording_and_create_loop", "track": trackJSON,
		}},
		{"set volume", ParameterSet{TrackID: "track_0", Param: session.ParamVolume, Value: 0.5}, map[string]any{
			"action": "set_volume", "track_id": "track_0", "volume": 0.5, "value": 0.5,
		}},
		{"set reverb", ParameterSet{TrackID: "track_0", Param: session.ParamReverb, Value: 40}, map[string]any{
			"action": "set_reverb", "track_id": "track_0", "value": 40.0,
		}},
		{"set delay", ParameterSet{TrackID: "track_0", Param: session.ParamDelay, Value: 10}, map[string]any{
			"action": "set_delay", "track_id": "track_0", "value": 10.0,
		}},
		{"mute", PlaybackToggled{TrackID: "track_0", Muted: true, Volume: 0.8}, map[string]any{
			"action": "mute_track", "track_id": "track_0", "volume": 0.8,
		}},
		{"unmute", PlaybackToggled{TrackID: "track_0", Volume: 1}, map[string]any{
			"action": "unmute_track", "track_id": "track_0", "volume": 1.0,
		}},
		{"load state", LoadState{State: session.Snapshot{NodeID: "n1", Tracks: []session.Track{}, NextTrackID: 0}}, map[string]any{
			"action": "load_state",
			"state":  map[string]any{"history_node_id": "n1", "tracks": []any{}, "next_track_id": 0.0},
		}},
		{"track added", TrackAdded{Track: session.Track{ID: "track_1", Name: "AI Loop 1", Volume: 1, IsPlaying: true, Path: &path}}, map[string]any{
			"action": "add_new_track",
			"track": map[string]any{
				"id": "track_1", "name": "AI Loop 1", "volume": 1.0, "is_playing": true,
				"path": path, "reverb": 0.0, "delay": 0.0,
			},
		}},
		{"speak", Speak{Text: MsgNotUnderstood}, map[string]any{"speak": MsgNotUnderstood}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wire(t, Response{Directive: tt.d, NodeID: "node-9"})
			tt.want["history_node_id"] = "node-9"
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("wire form mismatch\n got: %v\nwant: %v", got, tt.want)
			}
		})
	}
}

func TestResponseJSON_NoDirective(t *testing.T) {
	if _, err := json.Marshal(Response{NodeID: "x"}); err == nil {
		t.Error("a response without a directive should not encode")
	}
}
