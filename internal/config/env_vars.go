package config

import (
	"fmt"
	"os"
)

const (
	portEnvVar      = "PORT"
	appNameVar      = "APP_NAME"
	sessionDirVar   = "SESSION_DIR"
	collaboratorVar = "COLLABORATOR_URL"
	logLevelVar     = "LOG_LEVEL"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "3000")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "WhatsApp Gateway")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetSessionDir returns the root directory for per-tenant credential stores.
// Each tenant gets its own subdirectory under this root on first connect.
func (EnvVars) GetSessionDir() string {
	return GetEnv(sessionDirVar, ".wa_sessions")
}

// GetCollaboratorURL returns the downstream endpoint that inbound messages
// are relayed to. An empty value disables the relay.
func (EnvVars) GetCollaboratorURL() string {
	return GetEnv(collaboratorVar, "http://localhost:8000/api/whatsapp/message/")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
