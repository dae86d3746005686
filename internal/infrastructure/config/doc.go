// Package config handles loading and validating Home Awareness configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Static configuration (ports, brokers, database path, scan timings) lives
// here. Values users change at runtime, such as the list of tracked devices
// or the media player address, live in the settings store instead.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret is required whenever the HTTP API is enabled
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Site.Name)
package config
