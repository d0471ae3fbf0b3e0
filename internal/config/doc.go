// Package config loads the synthpanel configuration.
//
// # Configuration Sources
//
// Values are layered, later sources winning:
//
//  1. Default() values
//  2. A YAML file (gopkg.in/yaml.v2), when one is given or found
//  3. Environment variables with the SYNTH_ prefix (kelseyhightower/envconfig)
//
// The merged result is checked with go-playground/validator struct tags.
//
// # Environment Variables
//
// Nested sections map to underscore-joined names:
//
//	SYNTH_SYNTHESIS_SEED=42
//	SYNTH_SYNTHESIS_WORKERS=8
//	SYNTH_STORE_DRIVER=sqlite
//	SYNTH_LOGGING_LEVEL=debug
//	SYNTH_SERVER_PORT=9090
//
// Resolver overrides are structured data and can only be set from YAML:
//
//	resolver:
//	  overrides:
//	    - region: 51
//	      base_period: 2000
//	      population: {base: 580000, drift: 5000, floor: 550000}
//	      mean: {base: 52000, drift: 800, floor: 48000}
//	      proportion: 0.98
//
// # Path Management
//
// Paths resolves the data, output and log directories against a base
// directory (the working directory unless configured) and creates them on
// demand.
package config
