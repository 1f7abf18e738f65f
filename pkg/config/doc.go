// Package config loads the deployer's settings and the documents
// environments are created from.
//
// # Environment configs
//
// An EnvironmentConfig can be written as YAML, JSON, CUE or a Starlark
// script. Whatever the format, the Loader checks it in the same order:
//
//  1. the document is unified with the built-in CUE #EnvironmentConfig
//     schema, which rejects unknown fields and fills defaults;
//  2. validator struct tags check field rules;
//  3. the environment name rules are applied.
//
// Cross-field policy checks live in package policy and run after loading.
//
// A Starlark source must assign a top-level config dict. Scripts can read
// the process environment with getenv(name, default) and build port lists
// with ports(first, count):
//
//	config = {
//	    "environment": {"name": getenv("ENV_NAME", "staging")},
//	    "ssh_credentials": {
//	        "private_key_path": "keys/id_ed25519",
//	        "public_key_path": "keys/id_ed25519.pub",
//	    },
//	    "provider": {"kind": "lxd", "profile_name": "torrust-profile-staging"},
//	    "tracker": {"udp_ports": ports(6969, 2), "api_port": 1212},
//	}
//
// Problems are reported as *ValidationErrors carrying file positions where
// the format has them.
//
// # Application settings
//
// AppConfig is read from deployer.yaml, then overridden by DEPLOYER_*
// variables (DEPLOYER_DATA_DIR, DEPLOYER_BUILD_DIR, DEPLOYER_LOCK_TIMEOUT,
// DEPLOYER_LOG_LEVEL and so on). Command-line flags are applied on top by
// the CLI.
package config
