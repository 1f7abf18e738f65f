package environment

import (
	"encoding/json"
	"errors"
	"fmt"
)

// erased is the view of an Environment[S] that does not mention S.
type erased interface {
	erasedContext() Context
	erasedState() State
}

// AnyEnvironment holds an environment of a stage known only at runtime. It is
// the only form in which environments are serialized or stored.
type AnyEnvironment struct {
	env erased
}

// FromTyped wraps a typed environment.
func FromTyped[S State](e Environment[S]) AnyEnvironment {
	return AnyEnvironment{env: e}
}

// IntoTypedAs unwraps a to the stage S, failing with a StageMismatchError
// when a holds a different stage.
func IntoTypedAs[S State](a AnyEnvironment) (Environment[S], error) {
	var zero S
	typed, ok := a.env.(Environment[S])
	if !ok {
		return Environment[S]{}, &StageMismatchError{Expected: zero.Stage(), Actual: a.Stage()}
	}
	return typed, nil
}

// IsZero reports whether a holds no environment.
func (a AnyEnvironment) IsZero() bool {
	return a.env == nil
}

// Stage returns the stage of the wrapped environment.
func (a AnyEnvironment) Stage() StageName {
	if a.env == nil {
		return ""
	}
	return a.env.erasedState().Stage()
}

// Name returns the environment name.
func (a AnyEnvironment) Name() Name {
	return a.Context().Name()
}

// Context returns the stage-independent data.
func (a AnyEnvironment) Context() Context {
	if a.env == nil {
		return Context{}
	}
	return a.env.erasedContext()
}

// IsSuccess reports whether the environment is in a success stage.
func (a AnyEnvironment) IsSuccess() bool {
	return a.env != nil && a.Stage().IsSuccess()
}

// IsFailure reports whether the environment is in a failure stage.
func (a AnyEnvironment) IsFailure() bool {
	return a.env != nil && a.Stage().IsFailure()
}

// IsTerminal reports whether no workflow moves the environment forward.
func (a AnyEnvironment) IsTerminal() bool {
	return a.env != nil && a.Stage().IsTerminal()
}

// Failure returns the failure record of a failure-stage environment.
func (a AnyEnvironment) Failure() (FailureRecord, bool) {
	if a.env == nil {
		return FailureRecord{}, false
	}
	f, ok := a.env.erasedState().(failedState)
	if !ok {
		return FailureRecord{}, false
	}
	return f.failure(), true
}

// Instance returns the provisioned instance, if the stage carries one.
func (a AnyEnvironment) Instance() (Instance, bool) {
	if a.env == nil {
		return Instance{}, false
	}
	s, ok := a.env.erasedState().(instanceState)
	if !ok {
		return Instance{}, false
	}
	return s.instance(), true
}

// Validate checks the stage/payload invariant of the wrapped environment.
func (a AnyEnvironment) Validate() error {
	if a.env == nil {
		return &InvalidStateError{Reason: "no environment"}
	}
	if err := a.Context().Validate(); err != nil {
		return &InvalidStateError{Stage: a.Stage(), Reason: "invalid context", Err: err}
	}
	if err := a.env.erasedState().validate(); err != nil {
		return &InvalidStateError{Stage: a.Stage(), Reason: "invalid stage payload", Err: err}
	}
	return nil
}

// String implements fmt.Stringer.
func (a AnyEnvironment) String() string {
	if a.env == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s (%s)", a.Name(), a.Stage())
}

// variant decodes the payload of one stage.
type variant struct {
	stage  StageName
	decode func(json.RawMessage) (AnyEnvironment, error)
}

func decodeVariant[S State](data json.RawMessage) (AnyEnvironment, error) {
	var e Environment[S]
	if err := json.Unmarshal(data, &e); err != nil {
		return AnyEnvironment{}, err
	}
	return FromTyped(e), nil
}

var variants = [...]variant{
	{StageCreated, decodeVariant[Created]},
	{StageProvisioning, decodeVariant[Provisioning]},
	{StageProvisioned, decodeVariant[Provisioned]},
	{StageConfiguring, decodeVariant[Configuring]},
	{StageConfigured, decodeVariant[Configured]},
	{StageReleasing, decodeVariant[Releasing]},
	{StageReleased, decodeVariant[Released]},
	{StageRunning, decodeVariant[Running]},
	{StageDestroyed, decodeVariant[Destroyed]},
	{StageProvisionFailed, decodeVariant[ProvisionFailed]},
	{StageConfigureFailed, decodeVariant[ConfigureFailed]},
	{StageReleaseFailed, decodeVariant[ReleaseFailed]},
	{StageRunFailed, decodeVariant[RunFailed]},
}

// A stage added to allStages without a decoding variant, or the reverse,
// makes this index constant out of range.
var _ = [1]struct{}{}[len(variants)-len(allStages)]

func lookupVariant(stage StageName) (variant, bool) {
	for _, v := range variants {
		if v.stage == stage {
			return v, true
		}
	}
	return variant{}, false
}

// document is the persisted shape: a stage tag plus the typed payload.
type document struct {
	Stage       StageName       `json:"stage"`
	Environment json.RawMessage `json:"environment"`
}

// MarshalJSON implements json.Marshaler.
func (a AnyEnvironment) MarshalJSON() ([]byte, error) {
	if a.env == nil {
		return nil, errors.New("cannot encode an empty environment")
	}
	payload, err := json.Marshal(a.env)
	if err != nil {
		return nil, err
	}
	return json.Marshal(document{Stage: a.Stage(), Environment: payload})
}

// UnmarshalJSON implements json.Unmarshaler. The stage tag selects the
// payload type and the decoded payload is re-validated.
func (a *AnyEnvironment) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return &InvalidStateError{Reason: "malformed document", Err: err}
	}
	v, ok := lookupVariant(doc.Stage)
	if !ok {
		return &InvalidStateError{Stage: doc.Stage, Reason: "unknown stage"}
	}
	if len(doc.Environment) == 0 || string(doc.Environment) == "null" {
		return &InvalidStateError{Stage: doc.Stage, Reason: "missing environment payload"}
	}
	decoded, err := v.decode(doc.Environment)
	if err != nil {
		var invalid *InvalidStateError
		if errors.As(err, &invalid) {
			return err
		}
		return &InvalidStateError{Stage: doc.Stage, Reason: "malformed payload", Err: err}
	}
	*a = decoded
	return nil
}
