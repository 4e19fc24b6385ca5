package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// AWSCreds is the AWS credential file (region, optional static keys, and the
// destination queue for the SQS sink).
type AWSCreds struct {
	RegionName         string `json:"region_name"`
	AWSAccessKeyID     string `json:"aws_access_key_id"`
	AWSSecretAccessKey string `json:"aws_secret_access_key"`
	QueueName          string `json:"queue_name"`
}

// DuoCreds holds the Duo Admin API credentials.
type DuoCreds struct {
	IntegrationKey string `json:"integration_key"`
	SecretKey      string `json:"secret_key"`
	APIHostname    string `json:"api_hostname"`
}

// OneLoginCreds holds the OneLogin API credentials.
type OneLoginCreds struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	// APIHost overrides the default api.onelogin.com endpoint (regional
	// shards, test servers).
	APIHost string `json:"api_host"`
}

// ReadAWSCreds loads the AWS credential file. region_name is required.
func ReadAWSCreds(path string) (*AWSCreds, error) {
	var creds AWSCreds
	if err := readCredsFile(path, &creds); err != nil {
		return nil, err
	}
	if creds.RegionName == "" {
		return nil, missingKey(path, "region_name")
	}
	return &creds, nil
}

// ReadDuoCreds loads the Duo credential file. All three keys are required.
func ReadDuoCreds(path string) (*DuoCreds, error) {
	var creds DuoCreds
	if err := readCredsFile(path, &creds); err != nil {
		return nil, err
	}
	switch {
	case creds.IntegrationKey == "":
		return nil, missingKey(path, "integration_key")
	case creds.SecretKey == "":
		return nil, missingKey(path, "secret_key")
	case creds.APIHostname == "":
		return nil, missingKey(path, "api_hostname")
	}
	return &creds, nil
}

// ReadOneLoginCreds loads the OneLogin credential file.
func ReadOneLoginCreds(path string) (*OneLoginCreds, error) {
	var creds OneLoginCreds
	if err := readCredsFile(path, &creds); err != nil {
		return nil, err
	}
	switch {
	case creds.ClientID == "":
		return nil, missingKey(path, "client_id")
	case creds.ClientSecret == "":
		return nil, missingKey(path, "client_secret")
	}
	return &creds, nil
}

func readCredsFile(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading credentials %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parsing credentials %s: %w", path, err)
	}
	return nil
}

func missingKey(path, key string) error {
	return fmt.Errorf("credentials file %s does not contain the required key %q", path, key)
}
