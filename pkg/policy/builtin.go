package policy

// BuiltinPolicies returns the preflight rules every config is checked
// against.
func BuiltinPolicies() []Policy {
	return []Policy{
		portConflictsPolicy(),
		sshKeysPolicy(),
		servicesPolicy(),
		providerCredentialsPolicy(),
	}
}

func portConflictsPolicy() Policy {
	return Policy{
		Name:        "port-conflicts",
		Description: "Tracker ports must be distinct from each other and from the SSH port",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"network"},
		Rego: `package deployer.policies.ports

import rego.v1

tcp_ports := array.concat(input.config.tracker.http_ports, [input.config.tracker.api_port])

deny contains violation if {
	some i, j
	tcp_ports[i] == tcp_ports[j]
	i < j
	violation := {
		"message": sprintf("TCP port %d is used by more than one tracker endpoint", [tcp_ports[i]]),
		"field": "tracker",
		"remediation": "Give every HTTP tracker and the API its own port.",
	}
}

deny contains violation if {
	some i, j
	input.config.tracker.udp_ports[i] == input.config.tracker.udp_ports[j]
	i < j
	violation := {
		"message": sprintf("UDP port %d is listed twice", [input.config.tracker.udp_ports[i]]),
		"field": "tracker.udp_ports",
	}
}

deny contains violation if {
	some port in tcp_ports
	port == input.config.ssh_credentials.port
	violation := {
		"message": sprintf("tracker port %d collides with the SSH port", [port]),
		"field": "ssh_credentials.port",
		"remediation": "Move the tracker endpoint or the SSH daemon to another port.",
	}
}

deny contains violation if {
	some port in array.concat(tcp_ports, input.config.tracker.udp_ports)
	port < 1024
	violation := {
		"message": sprintf("port %d is privileged", [port]),
		"severity": "warning",
		"field": "tracker",
	}
}`,
	}
}

func sshKeysPolicy() Policy {
	return Policy{
		Name:        "ssh-keys",
		Description: "SSH key files must exist and form a key pair",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"ssh"},
		Rego: `package deployer.policies.ssh

import rego.v1

creds := input.config.ssh_credentials

deny contains violation if {
	creds.private_key_path == creds.public_key_path
	violation := {
		"message": "private and public key paths are the same file",
		"field": "ssh_credentials",
	}
}

deny contains violation if {
	some field in ["private_key_path", "public_key_path"]
	path := creds[field]
	input.context.files[path] == false
	violation := {
		"message": sprintf("%s %q is not readable", [field, path]),
		"field": sprintf("ssh_credentials.%s", [field]),
		"remediation": "Generate a key pair with ssh-keygen or fix the path.",
	}
}

deny contains violation if {
	not endswith(creds.public_key_path, ".pub")
	violation := {
		"message": sprintf("public key %q does not end in .pub", [creds.public_key_path]),
		"severity": "warning",
		"field": "ssh_credentials.public_key_path",
	}
}

deny contains violation if {
	creds.username == "root"
	violation := {
		"message": "logging in as root is not supported by the provisioned images",
		"field": "ssh_credentials.username",
	}
}`,
	}
}

func servicesPolicy() Policy {
	return Policy{
		Name:        "services",
		Description: "Optional services must be configured consistently",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"release"},
		Rego: `package deployer.policies.services

import rego.v1

deny contains violation if {
	input.config.grafana
	not input.config.prometheus
	violation := {
		"message": "grafana requires prometheus",
		"field": "grafana",
		"remediation": "Add a prometheus section or remove the grafana section.",
	}
}

deny contains violation if {
	input.config.grafana.admin_password in ["admin", "password", ""]
	violation := {
		"message": "grafana uses a default admin password",
		"severity": "warning",
		"field": "grafana.admin_password",
	}
}

deny contains violation if {
	input.config.prometheus.scrape_interval > 300
	violation := {
		"message": sprintf("prometheus scrape interval of %ds is longer than five minutes", [input.config.prometheus.scrape_interval]),
		"severity": "warning",
		"field": "prometheus.scrape_interval",
	}
}`,
	}
}

func providerCredentialsPolicy() Policy {
	return Policy{
		Name:        "provider-credentials",
		Description: "Provider credentials come from the process environment",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"provider", "secrets"},
		Rego: `package deployer.policies.provider

import rego.v1

deny contains violation if {
	input.config.provider.api_token
	violation := {
		"message": "provider.api_token is not stored with the environment",
		"field": "provider.api_token",
		"remediation": "Export HCLOUD_TOKEN before provisioning and remove api_token from the config.",
	}
}

deny contains violation if {
	input.config.provider.kind == "hetzner"
	not input.context.hetzner_token_set
	violation := {
		"message": "HCLOUD_TOKEN is not set",
		"severity": token_severity,
		"remediation": "Export HCLOUD_TOKEN with a Hetzner Cloud API token.",
	}
}

default token_severity := "warning"

token_severity := "error" if input.context.operation == "provision"`,
	}
}
