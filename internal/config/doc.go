// Package config loads the NeoLink runtime configuration from a JSON file,
// an optional .env file and process environment overrides.
package config
