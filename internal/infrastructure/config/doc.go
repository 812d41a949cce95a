// Package config loads and validates the SLS detector bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SLSDET_* environment variables
//   - Validation of required fields, reporting every error at once
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret guards every API route that writes to a detector
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Detector.Hostname)
package config
