package dispatch

import (
	"encoding/json"
	"fmt"

	"jamsession/looper/internal/session"
)

// Action is the verb a directive asks the client audio engine to perform.
type Action string

const (
	ActionNone           Action = ""
	ActionStartRecording Action = "start_recording"
	ActionLoopCreated    Action = "stop_recording_and_create_loop"
	ActionSetVolume      Action = "set_volume"
	ActionSetReverb      Action = "set_reverb"
	ActionSetDelay       Action = "set_delay"
	ActionMuteTrack      Action = "mute_track"
	ActionUnmuteTrack    Action = "unmute_track"
	ActionLoadState      Action = "load_state"
	ActionAddNewTrack    Action = "add_new_track"
)

func (a Action) String() string { return string(a) }

// Directive is one response case. The concrete types below are the only
// implementations.
type Directive interface {
	Action() Action
	directive()
}

// StartRecording tells the client to begin capturing a loop.
type StartRecording struct{}

// LoopCreated reports the track made from a finished recording.
type LoopCreated struct {
	Track session.Track `json:"track"`
}

// ParameterSet reports a changed volume, reverb or delay.
type ParameterSet struct {
	TrackID string
	Param   string
	Value   float64
}

// PlaybackToggled reports a mute or unmute. Volume is the track's level so
// the client can restore it on unmute.
type PlaybackToggled struct {
	TrackID string  `json:"track_id"`
	Muted   bool    `json:"-"`
	Volume  float64 `json:"volume"`
}

// LoadState tells the client to replace its session with State.
type LoadState struct {
	State session.Snapshot `json:"state"`
}

// TrackAdded reports a generated track.
type TrackAdded struct {
	Track session.Track `json:"track"`
}

// Speak is a user-facing message with no audio action.
type Speak struct {
	Text string `json:"speak"`
}

func (StartRecording) Action() Action { return ActionStartRecording }
func (LoopCreated) Action() Action    { return ActionLoopCreated }
func (TrackAdded) Action() Action     { return ActionAddNewTrack }
func (LoadState) Action() Action      { return ActionLoadState }
func (Speak) Action() Action          { return ActionNone }

func (p ParameterSet) Action() Action { return Action("set_" + p.Param) }

func (p PlaybackToggled) Action() Action {
	if p.Muted {
		return ActionMuteTrack
	}
	return ActionUnmuteTrack
}

func (StartRecording) directive()  {}
func (LoopCreated) directive()     {}
func (ParameterSet) directive()    {}
func (PlaybackToggled) directive() {}
func (LoadState) directive()       {}
func (TrackAdded) directive()      {}
func (Speak) directive()           {}

// MarshalJSON writes the value under "value", and for volume also under
// "volume", which audio clients read.
func (p ParameterSet) MarshalJSON() ([]byte, error) {
	out := map[string]any{"track_id": p.TrackID, "value": p.Value}
	if p.Param == session.ParamVolume {
		out["volume"] = p.Value
	}
	return json.Marshal(out)
}

// Response is the directive plus the node the client should send next time.
type Response struct {
	Directive Directive
	NodeID    string

	// Outcome and Chain describe how the request ran. They are not part
	// of the wire format.
	Outcome Outcome
	Chain   []HandlerID
}

// MarshalJSON flattens the directive and adds "action" (when the directive
// has one) and "history_node_id".
func (r Response) MarshalJSON() ([]byte, error) {
	fields, err := directiveFields(r.Directive)
	if err != nil {
		return nil, err
	}
	if id, err := json.Marshal(r.NodeID); err == nil {
		fields["history_node_id"] = id
	}
	return json.Marshal(fields)
}

func directiveFields(d Directive) (map[string]json.RawMessage, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatch: response has no directive")
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", d, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("flattening %T: %w", d, err)
	}
	if a := d.Action(); a != ActionNone {
		raw, _ := json.Marshal(a)
		fields["action"] = raw
	}
	return fields, nil
}
