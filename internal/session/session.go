// Package session holds the value types stored at every history node: the
// snapshot of one editing session and the tracks it contains.
package session

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Parameter ranges enforced on every track.
const (
	MinVolume = 0.0
	MaxVolume = 1.0
	MinEffect = 0.0
	MaxEffect = 100.0
)

// Adjustable track parameters.
const (
	ParamVolume = "volume"
	ParamReverb = "reverb"
	ParamDelay  = "delay"
)

const trackIDPrefix = "track_"

// Track is one audio loop.
type Track struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Volume    float64 `json:"volume"`
	IsPlaying bool    `json:"is_playing"`
	Path      *string `json:"path"`
	Reverb    float64 `json:"reverb"`
	Delay     float64 `json:"delay"`
}

// Muted is the logical negation of IsPlaying.
func (t Track) Muted() bool { return !t.IsPlaying }

// Clone returns a copy that shares no memory with t.
func (t Track) Clone() Track {
	c := t
	if t.Path != nil {
		p := *t.Path
		c.Path = &p
	}
	return c
}

// ParamRange returns the allowed range of param.
func ParamRange(param string) (lo, hi float64, ok bool) {
	switch param {
	case ParamVolume:
		return MinVolume, MaxVolume, true
	case ParamReverb, ParamDelay:
		return MinEffect, MaxEffect, true
	}
	return 0, 0, false
}

// SetParam clamps v into the range of param, stores it, and returns the
// stored value. It reports false for an unknown parameter.
func (t *Track) SetParam(param string, v float64) (float64, bool) {
	lo, hi, ok := ParamRange(param)
	if !ok {
		return 0, false
	}
	v = Clamp(v, lo, hi)
	switch param {
	case ParamVolume:
		t.Volume = v
	case ParamReverb:
		t.Reverb = v
	case ParamDelay:
		t.Delay = v
	}
	return v, true
}

// Snapshot is the full state of a session at one point in history.
// NodeID is empty until the snapshot has been committed.
type Snapshot struct {
	NodeID      string  `json:"history_node_id,omitempty"`
	Tracks      []Track `json:"tracks"`
	NextTrackID int     `json:"next_track_id"`
}

// Empty returns the snapshot every session starts from.
func Empty() *Snapshot {
	return &Snapshot{Tracks: []Track{}}
}

// Clone returns a deep copy: neither the track slice nor any track record
// is shared with s.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		NodeID:      s.NodeID,
		NextTrackID: s.NextTrackID,
		Tracks:      make([]Track, len(s.Tracks)),
	}
	for i, t := range s.Tracks {
		c.Tracks[i] = t.Clone()
	}
	return c
}

// FindTrack returns the index of the track with the given id, or -1.
func (s *Snapshot) FindTrack(id string) int {
	for i := range s.Tracks {
		if s.Tracks[i].ID == id {
			return i
		}
	}
	return -1
}

// Validate checks the snapshot invariants: unique track ids, a counter
// strictly above every existing track number, and parameters in range.
func (s *Snapshot) Validate() error {
	if s.NextTrackID < 0 {
		return fmt.Errorf("next_track_id is negative: %d", s.NextTrackID)
	}
	seen := make(map[string]bool, len(s.Tracks))
	for _, t := range s.Tracks {
		if t.ID == "" {
			return fmt.Errorf("track with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate track id %q", t.ID)
		}
		seen[t.ID] = true
		if n, ok := TrackNumber(t.ID); ok && n >= s.NextTrackID {
			return fmt.Errorf("track %q not below next_track_id %d", t.ID, s.NextTrackID)
		}
		if !inRange(t.Volume, MinVolume, MaxVolume) {
			return fmt.Errorf("track %q volume %v out of range", t.ID, t.Volume)
		}
		if !inRange(t.Reverb, MinEffect, MaxEffect) {
			return fmt.Errorf("track %q reverb %v out of range", t.ID, t.Reverb)
		}
		if !inRange(t.Delay, MinEffect, MaxEffect) {
			return fmt.Errorf("track %q delay %v out of range", t.ID, t.Delay)
		}
	}
	return nil
}

// Summary renders a short human-readable description of the session, used
// as context for intent resolution.
func (s *Snapshot) Summary() string {
	if len(s.Tracks) == 0 {
		return "The session has no tracks."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The session has %d track(s):", len(s.Tracks))
	for _, t := range s.Tracks {
		state := "playing"
		if t.Muted() {
			state = "muted"
		}
		fmt.Fprintf(&b, "\n- %s %q volume=%.2f reverb=%.0f delay=%.0f %s",
			t.ID, t.Name, t.Volume, t.Reverb, t.Delay, state)
	}
	return b.String()
}

// TrackID formats the identifier of the n-th track created in a session.
func TrackID(n int) string {
	return trackIDPrefix + strconv.Itoa(n)
}

// TrackNumber parses the numeric suffix of a track id produced by TrackID.
func TrackNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, trackIDPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
