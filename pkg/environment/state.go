package environment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"
)

// State is implemented only by the stage marker types of this package. Each
// marker carries exactly the payload its stage requires.
type State interface {
	Stage() StageName
	validate() error
}

// Instance describes the provisioned compute resource.
type Instance struct {
	ip            netip.Addr
	provisionedAt time.Time
}

// NewInstance returns an Instance for a reachable unicast address.
func NewInstance(ip netip.Addr, provisionedAt time.Time) (Instance, error) {
	inst := Instance{ip: ip, provisionedAt: provisionedAt.UTC()}
	if err := inst.validate(); err != nil {
		return Instance{}, err
	}
	return inst, nil
}

// IP returns the instance address.
func (i Instance) IP() netip.Addr {
	return i.ip
}

// ProvisionedAt returns when provisioning finished.
func (i Instance) ProvisionedAt() time.Time {
	return i.provisionedAt
}

func (i Instance) validate() error {
	if !i.ip.IsValid() {
		return errors.New("instance address is missing")
	}
	if i.ip.IsUnspecified() || i.ip.IsMulticast() {
		return fmt.Errorf("instance address %s is not a host address", i.ip)
	}
	if i.provisionedAt.IsZero() {
		return errors.New("instance provisioning time is missing")
	}
	return nil
}

type instanceJSON struct {
	IP            netip.Addr `json:"ip"`
	ProvisionedAt time.Time  `json:"provisioned_at"`
}

// MarshalJSON implements json.Marshaler.
func (i Instance) MarshalJSON() ([]byte, error) {
	return json.Marshal(instanceJSON{IP: i.ip, ProvisionedAt: i.provisionedAt})
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *Instance) UnmarshalJSON(data []byte) error {
	var raw instanceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = Instance{ip: raw.IP, provisionedAt: raw.ProvisionedAt}
	return nil
}

// Created is the stage of a freshly created environment.
type Created struct{}

// Provisioning is held while the provision workflow runs.
type Provisioning struct{}

// Provisioned means the instance exists and answers on SSH.
type Provisioned struct {
	Instance Instance `json:"instance"`
}

// Configuring is held while the configure workflow runs.
type Configuring struct {
	Instance Instance `json:"instance"`
}

// Configured means the instance has Docker and its system configuration.
type Configured struct {
	Instance Instance `json:"instance"`
}

// Releasing is held while the release workflow runs.
type Releasing struct {
	Instance Instance `json:"instance"`
}

// Released means the application artifacts are on the instance.
type Released struct {
	Instance Instance `json:"instance"`
}

// Running means the application services were started and verified.
type Running struct {
	Instance  Instance  `json:"instance"`
	StartedAt time.Time `json:"started_at"`
}

// Destroyed means the infrastructure was torn down.
type Destroyed struct {
	DestroyedAt time.Time `json:"destroyed_at"`
}

// ProvisionFailed records a failed provision workflow.
type ProvisionFailed struct {
	Failure FailureRecord `json:"failure"`
}

// ConfigureFailed records a failed configure workflow.
type ConfigureFailed struct {
	Instance Instance      `json:"instance"`
	Failure  FailureRecord `json:"failure"`
}

// ReleaseFailed records a failed release workflow.
type ReleaseFailed struct {
	Instance Instance      `json:"instance"`
	Failure  FailureRecord `json:"failure"`
}

// RunFailed records a failed run workflow.
type RunFailed struct {
	Instance Instance      `json:"instance"`
	Failure  FailureRecord `json:"failure"`
}

func (Created) Stage() StageName         { return StageCreated }
func (Provisioning) Stage() StageName    { return StageProvisioning }
func (Provisioned) Stage() StageName     { return StageProvisioned }
func (Configuring) Stage() StageName     { return StageConfiguring }
func (Configured) Stage() StageName      { return StageConfigured }
func (Releasing) Stage() StageName       { return StageReleasing }
func (Released) Stage() StageName        { return StageReleased }
func (Running) Stage() StageName         { return StageRunning }
func (Destroyed) Stage() StageName       { return StageDestroyed }
func (ProvisionFailed) Stage() StageName { return StageProvisionFailed }
func (ConfigureFailed) Stage() StageName { return StageConfigureFailed }
func (ReleaseFailed) Stage() StageName   { return StageReleaseFailed }
func (RunFailed) Stage() StageName       { return StageRunFailed }

func (Created) validate() error       { return nil }
func (Provisioning) validate() error  { return nil }
func (s Provisioned) validate() error { return s.Instance.validate() }
func (s Configuring) validate() error { return s.Instance.validate() }
func (s Configured) validate() error  { return s.Instance.validate() }
func (s Releasing) validate() error   { return s.Instance.validate() }
func (s Released) validate() error    { return s.Instance.validate() }

func (s Running) validate() error {
	if s.StartedAt.IsZero() {
		return errors.New("start time is missing")
	}
	return s.Instance.validate()
}

func (s Destroyed) validate() error {
	if s.DestroyedAt.IsZero() {
		return errors.New("destruction time is missing")
	}
	return nil
}

func (s ProvisionFailed) validate() error {
	return s.Failure.Validate()
}

func (s ConfigureFailed) validate() error {
	return errors.Join(s.Instance.validate(), s.Failure.Validate())
}

func (s ReleaseFailed) validate() error {
	return errors.Join(s.Instance.validate(), s.Failure.Validate())
}

func (s RunFailed) validate() error {
	return errors.Join(s.Instance.validate(), s.Failure.Validate())
}

// failedState is implemented by the failure markers.
type failedState interface {
	State
	failure() FailureRecord
}

func (s ProvisionFailed) failure() FailureRecord { return s.Failure }
func (s ConfigureFailed) failure() FailureRecord { return s.Failure }
func (s ReleaseFailed) failure() FailureRecord   { return s.Failure }
func (s RunFailed) failure() FailureRecord       { return s.Failure }

// instanceState is implemented by markers that know the instance address.
type instanceState interface {
	State
	instance() Instance
}

func (s Provisioned) instance() Instance     { return s.Instance }
func (s Configuring) instance() Instance     { return s.Instance }
func (s Configured) instance() Instance      { return s.Instance }
func (s Releasing) instance() Instance       { return s.Instance }
func (s Released) instance() Instance        { return s.Instance }
func (s Running) instance() Instance         { return s.Instance }
func (s ConfigureFailed) instance() Instance { return s.Instance }
func (s ReleaseFailed) instance() Instance   { return s.Instance }
func (s RunFailed) instance() Instance       { return s.Instance }
