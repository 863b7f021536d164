package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "AWARE_SYNC_CONFIG"
	EnvHost     = "AWARE_SYNC_HOST"
	EnvDeviceID = "AWARE_SYNC_DEVICE_ID"
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath string // AWARE_SYNC_CONFIG
	Host       string // AWARE_SYNC_HOST
	DeviceID   string // AWARE_SYNC_DEVICE_ID
}

// ReadEnvOverrides reads the override variables. It does not modify any
// Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Host:       os.Getenv(EnvHost),
		DeviceID:   os.Getenv(EnvDeviceID),
	}
}
