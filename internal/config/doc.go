// Package config resolves the runtime settings of the FP&A service: the
// provider-specific LLM credentials read from the process environment, and
// the service-level parameters (listen address, storage, queue, auth,
// logging) read from an optional YAML file.
package config
