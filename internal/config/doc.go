// Package config handles configuration loading, parsing, and validation
// from environment variables (prefix SCRY_) and an optional config.yaml.
// Capability choices such as the generation mode and the LLM driver are
// fixed here at startup and never probed at call time.
package config
