package config

import (
	"os"
)

// Environment variables understood without the OIDC_ prefix.
const (
	portEnvVar    = "PORT"
	appNameVar    = "APP_NAME"
	baseURLVar    = "BASE_URL"
	envVar        = "ENV"
	dataFolderVar = "FOLDER"
)

var legacyEnvBindings = map[string]string{
	"server.port":     portEnvVar,
	"server.app_name": appNameVar,
	"server.base_url": baseURLVar,
	"server.env":      envVar,
	"storage.folder":  dataFolderVar,
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
