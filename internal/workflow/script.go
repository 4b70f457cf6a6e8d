// Package workflow implements C9: the scripted action executor that drives
// a browsersession.BrowserSession through a fixed sequence of steps. It
// runs alongside the Control Channel (C7) on the same browser handle; input
// steps can be held with Runner.Pause, which the Control Channel does not
// call.
package workflow

import "time"

// StepType enumerates the actions a Script may contain.
type StepType string

const (
	StepNavigate StepType = "navigate"
	StepClick    StepType = "click"
	StepInput    StepType = "input"
	StepWait     StepType = "wait"
)

// Step is one scripted action. Only the fields relevant to Type are read.
type Step struct {
	Type StepType `json:"type"`

	URL string `json:"url,omitempty"`

	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`

	// Condition is a JS boolean expression polled until truthy or Timeout
	// elapses (default 30s).
	Condition string        `json:"condition,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
}

// Script is an ordered list of Steps executed in sequence; the first step
// to fail aborts the remainder.
type Script struct {
	Steps []Step `json:"steps"`
}
