// Package config loads, validates, and normalizes settlecam configuration.
//
// Configuration lives in a single TOML file. Every tunable of the capture
// and detection pipeline is declared here and passed by value into component
// constructors; no package reads ambient global state.
package config
