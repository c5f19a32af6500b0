package dispatch

import (
	"fmt"
	"sort"

	"jamsession/looper/internal/intent"
)

// Table is the static dispatch graph: which handler serves each operation,
// which chain edges each handler may take, and the handler for anything
// else.
type Table struct {
	Handlers map[HandlerID]Handler
	Routes   map[string]HandlerID
	Chains   map[HandlerID][]HandlerID
	Default  HandlerID
}

// DefaultRoutes maps every operation the resolvers produce.
func DefaultRoutes() map[string]HandlerID {
	return map[string]HandlerID{
		intent.OpStartRecording:    HandlerRecord,
		intent.OpStopRecording:     HandlerStopRecord,
		intent.OpSetTrackParameter: HandlerSetParameter,
		intent.OpTogglePlayback:    HandlerToggle,
		intent.OpUndo:              HandlerUndo,
		intent.OpGenerateTrack:     HandlerGenerate,
		intent.OpSuggest:           HandlerAnalyze,
		intent.OpLoadState:         HandlerLoadState,
		intent.OpFallback:          HandlerFallback,
	}
}

// DefaultChains declares the only multi-step flow.
func DefaultChains() map[HandlerID][]HandlerID {
	return map[HandlerID][]HandlerID{
		HandlerAnalyze: {HandlerSuggest},
	}
}

// Route returns the handler for op, or the default.
func (t Table) Route(op string) HandlerID {
	if id, ok := t.Routes[op]; ok {
		return id
	}
	return t.Default
}

// Allows reports whether from may chain to to.
func (t Table) Allows(from, to HandlerID) bool {
	for _, next := range t.Chains[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate checks that every route and chain edge names a registered
// handler, that the chain graph is acyclic, and that its longest path plus
// one fallback reroute fits in maxChain steps.
func (t Table) Validate(maxChain int) error {
	if maxChain < 1 {
		return fmt.Errorf("%w: chain bound %d must be at least 1", ErrTable, maxChain)
	}
	if _, ok := t.Handlers[t.Default]; !ok {
		return fmt.Errorf("%w: default handler %q is not registered", ErrTable, t.Default)
	}
	for _, op := range sortedKeys(t.Routes) {
		if _, ok := t.Handlers[t.Routes[op]]; !ok {
			return fmt.Errorf("%w: operation %q routes to unregistered handler %q", ErrTable, op, t.Routes[op])
		}
	}
	for from, tos := range t.Chains {
		if _, ok := t.Handlers[from]; !ok {
			return fmt.Errorf("%w: chain from unregistered handler %q", ErrTable, from)
		}
		for _, to := range tos {
			if _, ok := t.Handlers[to]; !ok {
				return fmt.Errorf("%w: chain %q -> unregistered handler %q", ErrTable, from, to)
			}
		}
	}

	longest, err := t.longestChain()
	if err != nil {
		return err
	}
	if longest+1 > maxChain {
		return fmt.Errorf("%w: longest chain has %d handlers, bound %d leaves no room for a fallback", ErrTable, longest, maxChain)
	}
	return nil
}

// longestChain returns the number of handlers on the longest chain path,
// failing on a cycle.
func (t Table) longestChain() (int, error) {
	const (
		white = iota
		grey
		black
	)
	color := map[HandlerID]int{}
	depth := map[HandlerID]int{}

	var visit func(id HandlerID) error
	visit = func(id HandlerID) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("%w: chain cycle through %q", ErrTable, id)
		case black:
			return nil
		}
		color[id] = grey
		best := 0
		for _, next := range t.Chains[id] {
			if err := visit(next); err != nil {
				return err
			}
			if depth[next] > best {
				best = depth[next]
			}
		}
		depth[id] = best + 1
		color[id] = black
		return nil
	}

	longest := 0
	for id := range t.Handlers {
		if err := visit(id); err != nil {
			return 0, err
		}
		if depth[id] > longest {
			longest = depth[id]
		}
	}
	return longest, nil
}

func sortedKeys(m map[string]HandlerID) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
