// Package config handles loading and validating the bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML (or TOML) files
//   - Overriding with environment variables
//   - Validation of required fields and mapping entries
//   - Default value handling
//
// Security Considerations:
//   - The Blynk token and MQTT password should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Configuration is loaded once at startup and never mutated afterwards.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.BlynkServer())
package config
