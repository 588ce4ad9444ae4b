// Package config loads the intentd JSON configuration, overlays secrets from
// the environment (optionally read from a .env file next to the config) and
// fills defaults relative to the config directory.
package config
