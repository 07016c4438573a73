// Package config loads and validates the YAML configuration for the
// realtime sync engine. Values support ${VAR} environment expansion;
// defaults are applied for every optional field before validation.
package config
