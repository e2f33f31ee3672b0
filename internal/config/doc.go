// Package config loads guardian configuration from YAML files.
//
// # File Format
//
// Configuration is YAML with environment variable expansion: ${VAR_NAME}
// patterns anywhere in the file are replaced with the variable's value
// (empty string when unset) before parsing.
//
//	server:
//	  http_addr: ":8080"
//	database:
//	  path: "/var/lib/guardian/guardian.db"
//	auth:
//	  jwt_secret: "${GUARDIAN_JWT_SECRET}"
//	rtc:
//	  token_secret: "${GUARDIAN_RTC_SECRET}"
//	rate_limits:
//	  policies:
//	    create_link:
//	      max: 5
//	      window: "1h"
//	janitor:
//	  interval: "1h"
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Durations
//
// Duration fields are written as Go duration strings ("30s", "5m", "1h")
// and parsed with time.ParseDuration during Load.
//
// # Validation
//
// Load calls Validate after parsing; missing required fields (server
// address, database path, JWT secret) fail the load with a descriptive
// error.
package config
