// Package script turns a compact text description into a per-frame input
// stream, e.g. "0-59:axis=1;60:jump;61-90:axis=-0.5".
//
// Each clause is a frame or inclusive frame range followed by comma separated
// actions. Later clauses override earlier ones for the axis; jump is set by
// any matching clause. Frames no clause covers are neutral.
package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"netball/server/internal/fixed"
	"netball/server/internal/sim"
)

var ErrSyntax = errors.New("script: syntax error")

type clause struct {
	start, end sim.Frame
	axis       fixed.Fixed
	hasAxis    bool
	jump       bool
}

// Script is an immutable input stream. The zero value yields neutral input.
type Script struct {
	clauses []clause
}

// Parse builds a Script from text. An empty string is a valid, neutral script.
func Parse(text string) (*Script, error) {
	s := &Script{}
	for i, raw := range strings.Split(text, ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		c, err := parseClause(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: clause %d %q: %v", ErrSyntax, i+1, raw, err)
		}
		s.clauses = append(s.clauses, c)
	}
	return s, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(text string) *Script {
	s, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return s
}

func parseClause(raw string) (clause, error) {
	frames, actions, ok := strings.Cut(raw, ":")
	if !ok {
		return clause{}, errors.New("missing ':'")
	}
	var c clause
	var err error
	if c.start, c.end, err = parseRange(strings.TrimSpace(frames)); err != nil {
		return clause{}, err
	}
	for _, action := range strings.Split(actions, ",") {
		action = strings.TrimSpace(action)
		name, value, hasValue := strings.Cut(action, "=")
		switch name {
		case "jump":
			if hasValue {
				return clause{}, errors.New("jump takes no value")
			}
			c.jump = true
		case "axis":
			axis, err := fixed.Parse(value)
			if err != nil {
				return clause{}, err
			}
			c.axis, c.hasAxis = axis, true
		case "":
			return clause{}, errors.New("empty action")
		default:
			return clause{}, fmt.Errorf("unknown action %q", name)
		}
	}
	probe := sim.FrameInput{Frame: c.start, Axis: c.axis}
	if err := probe.Validate(); err != nil {
		return clause{}, err
	}
	return c, nil
}

func parseRange(text string) (sim.Frame, sim.Frame, error) {
	lo, hi, isRange := strings.Cut(text, "-")
	start, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("bad frame %q", lo)
	}
	end := start
	if isRange {
		end, err = strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		if err != nil || end < start {
			return 0, 0, fmt.Errorf("bad range %q", text)
		}
	}
	return sim.Frame(start), sim.Frame(end), nil
}

// Sample returns the scripted input for frame.
func (s *Script) Sample(frame sim.Frame) sim.FrameInput {
	in := sim.NeutralInput(frame)
	if s == nil {
		return in
	}
	for _, c := range s.clauses {
		if frame < c.start || frame > c.end {
			continue
		}
		if c.hasAxis {
			in.Axis = c.axis
		}
		if c.jump {
			in.Jump = true
		}
	}
	return in
}

// Last reports the final frame any clause covers, or -1 for an empty script.
func (s *Script) Last() sim.Frame {
	last := sim.Frame(-1)
	if s == nil {
		return last
	}
	for _, c := range s.clauses {
		last = max(last, c.end)
	}
	return last
}
