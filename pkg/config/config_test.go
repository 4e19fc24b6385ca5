package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadMain(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "logfeeder_config.yaml", `
logfeeder:
  aws_config_filepath: /etc/logfeeder/aws.yaml
  domain: acme
  last_timestamp_dir: /var/lib/logfeeder/log_files
  locks_dir: /var/lib/logfeeder/locks
  pushgateway_url: http://pushgateway:9091
duo:
  file: /etc/logfeeder/duo.yaml
onelogin:
  file: /etc/logfeeder/onelogin.yaml
`)

	main, feeders, err := LoadMain(path)
	if err != nil {
		t.Fatalf("LoadMain: %v", err)
	}
	if main.Domain != "acme" {
		t.Errorf("Domain = %q", main.Domain)
	}
	if main.AWSConfigFilepath != "/etc/logfeeder/aws.yaml" {
		t.Errorf("AWSConfigFilepath = %q", main.AWSConfigFilepath)
	}
	if main.LastTimestampDir != "/var/lib/logfeeder/log_files" {
		t.Errorf("LastTimestampDir = %q", main.LastTimestampDir)
	}

	want := map[string]string{
		"duo":      "/etc/logfeeder/duo.yaml",
		"onelogin": "/etc/logfeeder/onelogin.yaml",
	}
	if !reflect.DeepEqual(feeders, want) {
		t.Errorf("feeders = %v, want %v", feeders, want)
	}
}

func TestLoadMainDefaultsStateDirs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "minimal.yaml", `
logfeeder:
  domain: acme
`)
	main, _, err := LoadMain(path)
	if err != nil {
		t.Fatalf("LoadMain: %v", err)
	}
	if main.LastTimestampDir != "log_files" {
		t.Errorf("LastTimestampDir = %q, want log_files", main.LastTimestampDir)
	}
	if main.LocksDir != "locks" {
		t.Errorf("LocksDir = %q, want locks", main.LocksDir)
	}
}

func TestLoadFeederCollectsSubAPIs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "duo.yaml", `
api_creds_filepath: /etc/logfeeder/duo_creds.yaml
rate_limiter_num_calls_per_timeunit: 2
rate_limiter_num_seconds_per_timeunit: 60
sinks: [sqs, elasticsearch]
enable_admin: true
enable_auth: true
enable_tele: false
`)

	feeder, err := LoadFeeder(path)
	if err != nil {
		t.Fatalf("LoadFeeder: %v", err)
	}
	if feeder.RateLimiterNumCallsPerTimeunit != 2 || feeder.RateLimiterNumSecondsPerTimeunit != 60 {
		t.Errorf("rate limiter settings = %d/%d", feeder.RateLimiterNumCallsPerTimeunit, feeder.RateLimiterNumSecondsPerTimeunit)
	}
	if !reflect.DeepEqual(feeder.Sinks, []string{"sqs", "elasticsearch"}) {
		t.Errorf("Sinks = %v", feeder.Sinks)
	}

	want := map[string]bool{"admin": true, "auth": true, "tele": false}
	if !reflect.DeepEqual(feeder.SubAPIs, want) {
		t.Errorf("SubAPIs = %v, want %v", feeder.SubAPIs, want)
	}

	if got := feeder.EnabledSubAPIs("duo"); !reflect.DeepEqual(got, []string{"admin", "auth"}) {
		t.Errorf("EnabledSubAPIs = %v", got)
	}
}

func TestEnabledSubAPIsWithoutSubAPIs(t *testing.T) {
	feeder := &Feeder{}
	if got := feeder.EnabledSubAPIs("onelogin"); !reflect.DeepEqual(got, []string{"onelogin"}) {
		t.Errorf("EnabledSubAPIs = %v, want the feeder's own name", got)
	}
}

func TestLoadFeederRejectsNonBooleanEnable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", "enable_auth: yes please\n")
	if _, err := LoadFeeder(path); err == nil {
		t.Error("non-boolean enable_ value accepted")
	}
}

func TestReadDuoCreds(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "duo_creds.yaml", `
integration_key: DIXXXXXXXXXXXXXXXXXX
secret_key: sk
api_hostname: api-xxxx.duosecurity.com
`)
	creds, err := ReadDuoCreds(path)
	if err != nil {
		t.Fatalf("ReadDuoCreds: %v", err)
	}
	if creds.APIHostname != "api-xxxx.duosecurity.com" {
		t.Errorf("APIHostname = %q", creds.APIHostname)
	}
}

func TestReadDuoCredsMissingKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "duo_creds.yaml", "integration_key: DI\nsecret_key: sk\n")
	if _, err := ReadDuoCreds(path); err == nil {
		t.Error("missing api_hostname accepted")
	}
}

func TestReadAWSCredsRequiresRegion(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "aws.yaml", "queue_name: logfeeder-queue\n")
	if _, err := ReadAWSCreds(path); err == nil {
		t.Error("missing region_name accepted")
	}

	path = writeFile(t, dir, "aws2.yaml", "region_name: us-west-2\nqueue_name: logfeeder-queue\n")
	creds, err := ReadAWSCreds(path)
	if err != nil {
		t.Fatalf("ReadAWSCreds: %v", err)
	}
	if creds.RegionName != "us-west-2" || creds.QueueName != "logfeeder-queue" {
		t.Errorf("creds = %+v", creds)
	}
}
