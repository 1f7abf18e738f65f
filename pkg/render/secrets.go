package render

import (
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Secret names read by the release renderer.
const (
	SecretTrackerAPIToken   = "TRACKER_API_TOKEN"
	SecretMySQLRootPassword = "MYSQL_ROOT_PASSWORD"
	SecretMySQLPassword     = "MYSQL_PASSWORD"
)

// SecretSource supplies credentials that are written to the release bundle
// but never to the environment state.
type SecretSource interface {
	Secret(name string) string
}

// SecretFunc adapts a function to SecretSource.
type SecretFunc func(name string) string

func (f SecretFunc) Secret(name string) string { return f(name) }

// EnvSecrets reads DEPLOYER_<name> from the process environment and falls
// back to a random value.
func EnvSecrets(logger zerolog.Logger) SecretSource {
	return SecretFunc(func(name string) string {
		if v := os.Getenv("DEPLOYER_" + name); v != "" {
			return v
		}
		logger.Info().Str("secret", name).Msgf("DEPLOYER_%s is not set; generated a random value", name)
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	})
}
