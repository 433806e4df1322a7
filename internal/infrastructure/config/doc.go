// Package config handles loading and validating mqttsession configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (MQTTSESSION_*)
//   - Validation of required fields
//   - Default value handling
//   - Translating the mqtt section into the session option map
//
// Security Considerations:
//   - Sensitive values (broker password, InfluxDB token) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	builder := mqtt.FromOptions(cfg.MQTT.Options())
package config
