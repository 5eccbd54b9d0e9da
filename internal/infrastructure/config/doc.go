// Package config loads config.yaml for tfbridge.
//
// Load reads the file named by TFBRIDGE_CONFIG (default configs/config.yaml),
// fills defaults, applies TFBRIDGE_* environment overrides and validates
// the result. Secrets such as TFBRIDGE_JWT_SECRET and TFBRIDGE_MQTT_PASSWORD
// are normally supplied through the environment rather than the file.
//
// The things list seeds the thing registry on first start; later edits go
// through the REST API.
package config
