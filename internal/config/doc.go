// Package config owns the injectctl TOML file: loading it over the built-in
// defaults and rendering a starter template.
package config
