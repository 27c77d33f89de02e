package env

import "os"

const prefix = "FULFILLMENT_"

// Get returns the prefixed variable when set, then the bare one, then
// fallback. Lets process-level knobs like LOG_FORMAT follow the same naming
// as the rest of the config.
func Get(key, fallback string) string {
	if val := os.Getenv(prefix + key); val != "" {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
