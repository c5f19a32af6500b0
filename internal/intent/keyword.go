package intent

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Keyword is an offline resolver built from simple phrase rules. It needs
// no network access and always answers, so it serves as the resolver when
// no model is configured.
type Keyword struct{}

var (
	// trackRefRe matches "track 2", "track_2", "loop #2".
	trackRefRe = regexp.MustCompile(`\b(?:track|loop)[ _#]*(\d+)\b`)
	// numberRe matches a decimal with an optional percent sign.
	numberRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(%|percent)?`)
	// generateRe matches a generation verb as whole words, so "make all"
	// and "recreate" do not count.
	generateRe = regexp.MustCompile(`\b(?:generate|compose|create|make\s+(?:me|a))\b`)
)

func (Keyword) Resolve(ctx context.Context, summary, text string) (Intent, error) {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := tokenize(lower)

	switch {
	case lower == "":
		return Intent{Operation: OpLoadState}, nil
	case has(words, "undo") || strings.Contains(lower, "go back"):
		return Intent{Operation: OpUndo}, nil
	case has(words, "stop") && hasPrefix(words, "record"):
		return Intent{Operation: OpStopRecording}, nil
	case hasPrefix(words, "record"):
		return Intent{Operation: OpStartRecording}, nil
	case has(words, "suggest") || has(words, "suggestion") || has(words, "idea") || strings.Contains(lower, "what should"):
		return Intent{Operation: OpSuggest}, nil
	}

	if prompt, ok := generatePrompt(lower); ok {
		return Intent{Operation: OpGenerateTrack, Args: map[string]any{ArgPrompt: prompt}}, nil
	}

	trackID, rest := trackRef(lower)

	if has(words, "mute") || has(words, "unmute") || has(words, "toggle") || has(words, "silence") {
		args := map[string]any{}
		if trackID != "" {
			args[ArgTrackID] = trackID
		}
		return Intent{Operation: OpTogglePlayback, Args: args}, nil
	}

	for _, param := range []string{ArgVolume, ArgReverb, ArgDelay} {
		if !has(words, param) {
			continue
		}
		args := map[string]any{}
		if trackID != "" {
			args[ArgTrackID] = trackID
		}
		if v, ok := number(rest, param == ArgVolume); ok {
			args[param] = v
		}
		return Intent{Operation: OpSetTrackParameter, Args: args}, nil
	}

	return Fallback(), nil
}

// tokenize splits on whitespace and trims punctuation from both ends of
// every word.
func tokenize(s string) []string {
	var out []string
	for _, w := range strings.Fields(s) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func has(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

func hasPrefix(words []string, prefix string) bool {
	for _, x := range words {
		if strings.HasPrefix(x, prefix) {
			return true
		}
	}
	return false
}

// generatePrompt returns the text after the first generation verb.
func generatePrompt(lower string) (string, bool) {
	loc := generateRe.FindStringIndex(lower)
	if loc == nil {
		return "", false
	}
	prompt := strings.TrimFunc(lower[loc[1]:], func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })
	return prompt, prompt != ""
}

// trackRef extracts the first track reference and returns the text with
// that reference removed, so its digits are not mistaken for a value.
func trackRef(lower string) (string, string) {
	loc := trackRefRe.FindStringSubmatchIndex(lower)
	if loc == nil {
		return "", lower
	}
	id := "track_" + lower[loc[2]:loc[3]]
	return id, lower[:loc[0]] + " " + lower[loc[1]:]
}

// number parses the first value in s. Percentages are scaled to [0,1]
// for volume and kept as-is for effects, which are already 0-100. A bare
// whole number from 2 to 100 is read as a volume percentage; any other bare
// volume is returned as given and clamped when applied, so "volume 1.5"
// means full volume.
func number(s string, isVolume bool) (float64, bool) {
	m := numberRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if isVolume && (m[2] != "" || (v > 1 && v <= 100 && v == math.Trunc(v))) {
		v /= 100
	}
	return v, true
}
