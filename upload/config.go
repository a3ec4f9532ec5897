package upload

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/env"
)

// Secret is a sensitive configuration value. Formatting a Secret never prints
// its content.
type Secret string

const secretRedacted = "[REDACTED]"

// String implements fmt.Stringer and hides the value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretRedacted
}

// GoString implements fmt.GoStringer and hides the value from %#v output.
func (s Secret) GoString() string {
	return s.String()
}

// EnvConfig is the environment-sourced part of the uploader configuration.
type EnvConfig struct {
	APIBaseURL  Secret
	AccessToken Secret
	DatabaseID  string

	// AWS credentials are only needed for the direct-S3 transport.
	AWSRegion          string
	AWSAccessKeyID     Secret
	AWSSecretAccessKey Secret
}

// ConfigFromEnv reads the uploader configuration from the environment. The
// API URL and access token are required; the AWS settings are optional.
func ConfigFromEnv(envRepo env.Repository) (EnvConfig, error) {
	apiBaseURL := envRepo.Get("DAMKIT_API_URL")
	if apiBaseURL == "" {
		return EnvConfig{}, fmt.Errorf("the secret 'DAMKIT_API_URL' is not defined")
	}
	accessToken := envRepo.Get("DAMKIT_ACCESS_TOKEN")
	if accessToken == "" {
		return EnvConfig{}, fmt.Errorf("the secret 'DAMKIT_ACCESS_TOKEN' is not defined")
	}

	return EnvConfig{
		APIBaseURL:         Secret(apiBaseURL),
		AccessToken:        Secret(accessToken),
		DatabaseID:         envRepo.Get("DAMKIT_DATABASE_ID"),
		AWSRegion:          envRepo.Get("AWS_REGION"),
		AWSAccessKeyID:     Secret(envRepo.Get("AWS_ACCESS_KEY_ID")),
		AWSSecretAccessKey: Secret(envRepo.Get("AWS_SECRET_ACCESS_KEY")),
	}, nil
}
