// Package config loads the vncgate configuration file.
//
// # Configuration File
//
// The configuration is TOML, read from /etc/vncgate/config.toml unless
// --config names another file. Every key is optional except the token
// secret; unset keys keep the values from Default. Unknown keys are
// rejected so typos do not silently fall back to defaults.
//
//	state_dir = "/var/lib/vncgate"
//
//	[listen]
//	relay = ":6080"
//	admin = "127.0.0.1:6081"
//	allowed_origins = ["https://meet.example.org"]
//	rate_limit_requests = 30
//	rate_limit_window = "1m"
//
//	[token]
//	use_bbb_salt = true
//
//	[lookup]
//	sqlite_path = "users.db"
//	squash_spaces = true
//
//	[[lookup.users]]
//	subject = "alice"
//	port = 5901
//
//	[bbb]
//	enabled = true
//
//	[provision]
//	backend = "local"
//	ready_timeout = "10s"
//
// # Secrets
//
// The token secret comes from exactly one of token.secret,
// token.secret_file or token.use_bbb_salt, which reads securitySalt from
// the BigBlueButton property files. The meeting API credentials fall back
// to the same property files. Relative paths are resolved against the
// directory holding the configuration file.
//
// # Validation
//
// Load and Parse validate after decoding: listen addresses must parse,
// account names must be valid provisioning keys, the default target must
// parse, and the selected backend must have what it needs.
package config
