// Package playbook defines the step/transition/loop/save schema the Broker
// walks (spec.md §4.3), parsed from the YAML a playbook version stores in
// the Catalog. Field shapes are generalized from the teacher's IR node
// (cmd/workflow-runner/sdk/types.go's Node/LoopConfig/BranchConfig/Condition)
// to the spec's step/next/loop/save vocabulary.
package playbook

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StepType is the closed set of step kinds the broker dispatches on (§4.3).
type StepType string

const (
	StepTask     StepType = "task"
	StepWorkbook StepType = "workbook"
	StepIterator StepType = "iterator"
	StepPlaybook StepType = "playbook"
	StepEnd      StepType = "end"
)

// Playbook is a parsed playbook version: an ordered list of steps, walked by
// the broker in declaration order when computing the frontier.
type Playbook struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Steps   []Step `yaml:"steps"`
}

// Step is one node in the playbook graph.
type Step struct {
	Name string   `yaml:"name"`
	Type StepType `yaml:"type"`

	// Task is the plugin action body for task steps, e.g.
	// {type: http, method: GET, url: "{{ work.url }}"}. Left as a raw map so
	// the Context Service can render it without a second unmarshal pass.
	Task map[string]any `yaml:"task,omitempty"`

	// TaskName is the reusable workbook task this step invokes, for
	// StepWorkbook steps — distinct from Task, which is an inline body.
	// When it differs from Name, the Context Service aliases the task's
	// result under the step name (§4.5 step 3).
	TaskName string `yaml:"task_name,omitempty"`

	// Work is merged into the top of the rendering context before Task is
	// rendered (§4.5 step 5), without overwriting prior results.
	Work map[string]any `yaml:"work,omitempty"`

	// Next lists this step's outgoing transitions. Absent or empty means
	// terminal (no outgoing edges).
	Next []Transition `yaml:"next,omitempty"`

	// Loop configures an iterator step. Nil for non-iterator steps.
	Loop *LoopConfig `yaml:"loop,omitempty"`

	// Save is the step's optional `save` block, a map of context keys. It is
	// parsed only; neither the broker nor the worker applies it.
	Save map[string]string `yaml:"save,omitempty"`

	// Priority controls queue priority for enqueued jobs (default 0).
	Priority int `yaml:"priority,omitempty"`

	// MaxAttempts overrides the queue's retry policy for this step's jobs.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Playbook is the nested playbook path+version for StepPlaybook steps.
	Playbook string `yaml:"playbook,omitempty"`
}

// Transition is one `next` entry: either unconditional (When == "") or
// guarded by a `when` CEL expression evaluated against the step's rendered
// result and the execution context (§4.3, §4.5).
type Transition struct {
	When string   `yaml:"when,omitempty"`
	Then []string `yaml:"then,omitempty"`
	Else []string `yaml:"else,omitempty"`
	Pass bool     `yaml:"pass,omitempty"`
}

// LoopConfig describes how an iterator step expands a collection into
// per-item iterations (§4.3 step 4a, §4.4).
type LoopConfig struct {
	// Collection is a template expression resolving to the list to iterate,
	// e.g. "{{ work.items }}".
	Collection string `yaml:"collection"`

	// Iterator names the loop variable exposed to each iteration's body.
	Iterator string `yaml:"iterator"`

	// Playbook, when set, makes each iteration a nested playbook execution
	// (§4.3 step 4a's "child execution_id" path) instead of an inline job.
	Playbook string `yaml:"playbook,omitempty"`

	// ReturnStep names a child step of the loop. It is parsed only: the
	// broker does not read it, so the final-result search (§4.4's candidate
	// order) does not prefer this step's action_completed result.
	ReturnStep string `yaml:"return_step,omitempty"`
}

// Parse decodes a playbook YAML document.
func Parse(data []byte) (*Playbook, error) {
	var p Playbook
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse playbook: %w", err)
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("parse playbook: no steps defined")
	}
	return &p, nil
}

// StepByName returns the step with the given name, or nil.
func (p *Playbook) StepByName(name string) *Step {
	for i := range p.Steps {
		if p.Steps[i].Name == name {
			return &p.Steps[i]
		}
	}
	return nil
}

// Predecessors returns the names of every step whose `next` transitions
// (then or else) can lead to target, used by the broker's frontier computation
// (§4.3 step 3).
func (p *Playbook) Predecessors(target string) []string {
	var preds []string
	for _, s := range p.Steps {
		for _, t := range s.Next {
			if contains(t.Then, target) || contains(t.Else, target) {
				preds = append(preds, s.Name)
				break
			}
		}
	}
	return preds
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
