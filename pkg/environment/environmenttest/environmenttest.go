// Package environmenttest builds environments for tests of packages that
// store or drive them.
package environmenttest

import (
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/environment"
)

// Now is the fixed creation time of test environments.
var Now = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// Inputs returns valid LXD creation inputs for name.
func Inputs(name string) environment.UserInputs {
	return environment.UserInputs{
		Name:     environment.MustParseName(name),
		Provider: environment.ProviderSettings{Kind: environment.ProviderLXD, ProfileName: "torrust-profile-" + name},
		SSH: environment.SSHCredentials{
			PrivateKeyPath: "fixtures/testing_rsa",
			PublicKeyPath:  "fixtures/testing_rsa.pub",
			Username:       "torrust",
		},
		Tracker: environment.TrackerSettings{UDPPorts: []int{6969}, HTTPPorts: []int{7070}, APIPort: 1212},
	}
}

// Created returns a new environment whose data and build directories live
// under root.
func Created(t testing.TB, name, root string) environment.Environment[environment.Created] {
	t.Helper()
	ctx, err := environment.NewContext(Inputs(name), filepath.Join(root, "data"), filepath.Join(root, "build"), Now)
	require.NoError(t, err)
	env, err := environment.New(ctx)
	require.NoError(t, err)
	return env
}

// Instance returns an instance at ip provisioned one minute after Now.
func Instance(t testing.TB, ip string) environment.Instance {
	t.Helper()
	inst, err := environment.NewInstance(netip.MustParseAddr(ip), Now.Add(time.Minute))
	require.NoError(t, err)
	return inst
}

// Released walks name through provisioning, configuration and release.
func Released(t testing.TB, name, root string) environment.Environment[environment.Released] {
	t.Helper()
	provisioned := environment.MarkProvisioned(
		environment.BeginProvisioning(Created(t, name, root)),
		Instance(t, "10.0.0.5"),
	)
	configured := environment.MarkConfigured(environment.BeginConfiguring(provisioned))
	return environment.MarkReleased(environment.BeginRelease(configured))
}
