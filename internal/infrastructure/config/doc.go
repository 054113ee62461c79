// Package config handles loading and validating exmebus gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (EXMEBUS_*)
//   - Applying command-line overrides
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - MQTT and InfluxDB credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml", func(c *config.Config) {
//	    c.Exmebus.Port = 5000
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.SubscribeTopic())
package config
