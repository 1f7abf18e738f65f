package environment

import (
	"encoding/json"
	"fmt"
)

// Environment is an environment whose lifecycle stage is fixed by its type
// parameter. Stage-changing operations are the package-level transition
// functions, each accepting only the stage it leaves from. Values are never
// mutated; every transition returns a new value.
type Environment[S State] struct {
	context Context
	state   S
}

// New creates an environment in the Created stage.
func New(ctx Context) (Environment[Created], error) {
	if err := ctx.Validate(); err != nil {
		return Environment[Created]{}, &InvalidStateError{Stage: StageCreated, Reason: "invalid context", Err: err}
	}
	return Environment[Created]{context: ctx}, nil
}

// Name returns the environment name.
func (e Environment[S]) Name() Name {
	return e.context.Name()
}

// Context returns the stage-independent data.
func (e Environment[S]) Context() Context {
	return e.context
}

// State returns the stage marker with its payload.
func (e Environment[S]) State() S {
	return e.state
}

// Stage returns the stage name.
func (e Environment[S]) Stage() StageName {
	return e.state.Stage()
}

// Erase wraps the environment for storage and stage-agnostic inspection.
func (e Environment[S]) Erase() AnyEnvironment {
	return FromTyped(e)
}

// Validate checks the stage/payload invariant.
func (e Environment[S]) Validate() error {
	if err := e.context.Validate(); err != nil {
		return &InvalidStateError{Stage: e.Stage(), Reason: "invalid context", Err: err}
	}
	if err := e.state.validate(); err != nil {
		return &InvalidStateError{Stage: e.Stage(), Reason: "invalid stage payload", Err: err}
	}
	return nil
}

// String implements fmt.Stringer.
func (e Environment[S]) String() string {
	return fmt.Sprintf("%s (%s)", e.Name(), e.Stage())
}

type environmentJSON[S State] struct {
	Context Context `json:"context"`
	State   S       `json:"state"`
}

// MarshalJSON implements json.Marshaler.
func (e Environment[S]) MarshalJSON() ([]byte, error) {
	return json.Marshal(environmentJSON[S]{Context: e.context, State: e.state})
}

// UnmarshalJSON implements json.Unmarshaler. Decoded values are validated;
// callers never observe an environment that breaks its stage invariant.
func (e *Environment[S]) UnmarshalJSON(data []byte) error {
	var raw environmentJSON[S]
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := Environment[S]{context: raw.Context, state: raw.State}
	if err := decoded.Validate(); err != nil {
		return err
	}
	*e = decoded
	return nil
}

// erasedContext and erasedState back the stage-agnostic view in AnyEnvironment.
func (e Environment[S]) erasedContext() Context { return e.context }
func (e Environment[S]) erasedState() State     { return e.state }
