// Package config loads, normalizes, and validates assessflow's TOML
// configuration.
//
// Load resolves the config path (explicit flag, ~/.config/assessflow, or a
// project-local assessflow.toml), decodes it over Default(), expands paths,
// and runs Validate so downstream packages can rely on positive intervals and
// known enum values. CreateSample writes the embedded sample file used by
// `assessflow config init`.
package config
