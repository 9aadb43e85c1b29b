// Package flow defines the multi-step intake wizards and drives their transitions.
package flow

import (
	"fmt"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// Validator checks one raw answer and returns its normalized value.
type Validator func(raw string) (string, error)

// Step describes one question/answer exchange.
type Step struct {
	Field        models.FieldName
	Prompt       string
	QuickReplies []string
	Validate     Validator
}

// Definition is the ordered list of steps for one flow kind.
type Definition struct {
	Kind  models.FlowKind
	Steps []Step
}

// Len returns the number of steps.
func (d *Definition) Len() int {
	return len(d.Steps)
}

// Step returns the step at index i.
func (d *Definition) Step(i int) (Step, bool) {
	if i < 0 || i >= len(d.Steps) {
		return Step{}, false
	}
	return d.Steps[i], true
}

var registry = make(map[models.FlowKind]*Definition)

// Register associates a FlowKind with its Definition.
func Register(def *Definition) {
	registry[def.Kind] = def
}

// Get retrieves the Definition for a given FlowKind.
func Get(kind models.FlowKind) (*Definition, bool) {
	def, ok := registry[kind]
	return def, ok
}

// MustGet is like Get but panics for an unregistered kind.
func MustGet(kind models.FlowKind) *Definition {
	def, ok := Get(kind)
	if !ok {
		panic(fmt.Sprintf("flow: no definition registered for %q", kind))
	}
	return def
}

// Register default flows
func init() {
	Register(RegistrationFlow)
	Register(RequestFlow)
}
