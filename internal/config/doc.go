// Package config loads the process configuration of the authserver command
// from flags, an optional config file and AUTHSERVER_* environment variables.
package config
