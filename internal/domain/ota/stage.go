package ota

import (
	"errors"
	"fmt"
)

// Stage is a step of the strictly linear run progression.
type Stage int

// Stages in execution order.
const (
	StageNotStarted Stage = iota
	StagePreflight
	StageSigning
	StageStreamCreated
	StageDocumentBuilt
	StageJobSubmitted
	StageDone
)

// ErrStageOrder is returned when a transition skips or revisits a stage.
var ErrStageOrder = errors.New("stage transition out of order")

var stageNames = [...]string{
	StageNotStarted:    "not-started",
	StagePreflight:     "preflight",
	StageSigning:       "signing",
	StageStreamCreated: "stream-created",
	StageDocumentBuilt: "document-built",
	StageJobSubmitted:  "job-submitted",
	StageDone:          "done",
}

// String returns the kebab-case stage name.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}

	return stageNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	for i, name := range stageNames {
		if name == string(text) {
			*s = Stage(i)
			return nil
		}
	}

	return fmt.Errorf("unknown stage %q", text)
}

// Progress tracks the current stage and refuses anything but the next one.
type Progress struct {
	current Stage
}

// Current returns the last stage completed.
func (p *Progress) Current() Stage {
	return p.current
}

// Advance moves to next, which must directly follow the current stage.
func (p *Progress) Advance(next Stage) error {
	if next != p.current+1 || next > StageDone {
		return fmt.Errorf("%w: %s -> %s", ErrStageOrder, p.current, next)
	}

	p.current = next

	return nil
}
