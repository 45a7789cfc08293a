// Package config loads the gateway's YAML configuration file, expanding
// ${VAR} environment references before parsing.
package config
