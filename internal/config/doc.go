// Package config handles configuration loading for the gatekeeper.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  api_key: "${GATEKEEPER_AUTH_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8088"
//
// Authentication:
//
//	auth:
//	  service_url: "https://auth.example.org"
//	  public_key: "/etc/gatekeeper/keys/public.pem"
//	  private_key: "/etc/gatekeeper/keys/private.pem"
//	  ca_file: "/etc/gatekeeper/ca.pem"          # optional truststore
//	  api_key: "${GATEKEEPER_AUTH_KEY}"
//	  public_subject: "public"
//	  public_id: "EDI-public"
//	  system: "https://pasta.edirepository.org/authentication"
//	  token_ttl: "8h"
//	  key_fault_status: 500                      # 400 in legacy deployments
//
// Upstream services:
//
//	upstreams:
//	  package_url: "http://localhost:8080/package"
//	  audit_url: "http://localhost:8080/audit"
//	  timeout: "2m"
//
// Robot patterns, static assets, logging, metrics:
//
//	robots:
//	  path: "/etc/gatekeeper/robot-patterns.txt"
//	static:
//	  dir: "./static"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load() validates that the listener address, authority URL, key paths,
// public identity, and both upstream URLs are present, and that upstream
// URLs are absolute.
package config
