// Package config loads the shopware-app-server configuration.
//
// # Configuration File
//
// The path is taken from, in order:
//
//  1. the SHOPWARE_APP_SERVER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/shopware-app-server/config.yaml
//  3. ~/.config/shopware-app-server/config.yaml
//
// Files ending in .toml are parsed as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Values can reference environment variables, which is how app secrets and
// the operator JWT secret are usually supplied:
//
//	apps:
//	  - key: my-app
//	    secret: "${MY_APP_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// server.read_header_timeout, server.shutdown_timeout, appserver.app_token_ttl
// and appserver.event_dedupe_ttl use time.ParseDuration syntax ("10s", "1h").
//
// # Validation
//
// Load applies defaults and then rejects:
//
//   - a missing server.http_addr
//   - database.path missing for sqlite, database.dsn missing for postgres
//   - no apps, duplicate or empty app keys, keys containing dots, empty secrets
//   - an auth.jwt_secret shorter than 32 bytes
//   - a database.encryption_key that is not base64 of at least 32 bytes
package config
