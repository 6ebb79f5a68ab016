package auth

import "os"

// DefaultEndpoints returns the production OAuth endpoints, each
// overridable through the environment for self-hosted gateways and
// tests.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		DeviceCodeURL: envOrDefault("CREWCTL_AUTH_DEVICE_URL", "https://console.anthropic.com/v1/oauth/device/code"),
		TokenURL:      envOrDefault("CREWCTL_AUTH_TOKEN_URL", "https://console.anthropic.com/v1/oauth/token"),
		ClientID:      envOrDefault("CREWCTL_AUTH_CLIENT_ID", "9d1c250a-e61b-44d9-88ed-5944d1962f5e"),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
