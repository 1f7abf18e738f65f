// Package policy runs Open Policy Agent preflight checks over environment
// configs before an environment is created or provisioned.
//
// Schema and field rules live in package config; policies cover what those
// cannot express, such as rules across sections or rules that depend on the
// local machine.
//
// Each policy is a Rego module whose deny set yields violations. A
// violation is either a string or an object:
//
//	package deployer.policies.naming
//
//	import rego.v1
//
//	deny contains violation if {
//	    startswith(input.config.environment.name, "prod")
//	    input.config.provider.kind == "lxd"
//	    violation := {
//	        "message": "production environments must not run on LXD",
//	        "field": "provider.kind",
//	        "severity": "error",
//	        "remediation": "Use the hetzner provider.",
//	    }
//	}
//
// input.config is the loaded config with defaults applied. input.context
// carries the operation (create, validate, provision), whether HCLOUD_TOKEN
// is set and which key files are readable.
//
// Violations with severity error make Result.Err return a *DeniedError;
// warnings and info are reported only.
//
// # Built-in Policies
//
//   - port-conflicts: tracker ports are distinct and do not collide with SSH
//   - ssh-keys: key files exist and form a pair
//   - services: grafana requires prometheus, no default passwords
//   - provider-credentials: Hetzner tokens come from HCLOUD_TOKEN
//
// Extra policies are loaded from .rego or .json files with
// Engine.LoadPolicies. A .rego file is named after the file; a leading
// "# severity: warning" comment sets its default severity.
package policy
