package startup

import (
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	// Check that all fields are populated
	if info.Version == "" {
		t.Error("Expected Version to be set")
	}
	if info.GoVersion == "" {
		t.Error("Expected GoVersion to be set")
	}
	if info.OS == "" {
		t.Error("Expected OS to be set")
	}
	if info.Arch == "" {
		t.Error("Expected Arch to be set")
	}

	// Verify that runtime values are correct
	if info.GoVersion != GoVersion {
		t.Errorf("Expected GoVersion=%s, got %s", GoVersion, info.GoVersion)
	}
}

// configEnvKeys is every variable LoadConfig reads. Tests clear them all so
// the host environment cannot leak into assertions.
var configEnvKeys = []string{
	"AMQP_HOSTNAME", "AMQP_PORT", "AMQP_USERNAME", "AMQP_PASSWORD",
	"AMQP_VHOST", "AMQP_PREFETCH_COUNT", "AMQP_MAX_RETRY_COUNT",
	"AMQP_MESSAGE_TIMEOUT_HOURS", "AMQP_MAX_QUEUE_LENGTH",
	"AMQP_MESSAGE_BATCH_SIZE",
	"MONGO_URI", "MONGO_DATABASE", "MONGO_CONNECT_TIMEOUT",
	"MONGO_SOCKET_TIMEOUT", "MONGO_MAX_POOL_SIZE", "MONGO_MIN_POOL_SIZE",
	"MONGO_RETRY_WRITES",
	"WORKER_CONCURRENCY", "PIPELINE_WORKERS", "HANDLER_DEADLINE_SECONDS",
	"STALE_JOB_THRESHOLD_SECONDS", "RETENTION_DAYS", "PIPELINE_FANOUT_STAGE",
	"MAX_IMAGE_SIZE_BYTES", "MAX_ARCHIVE_ENTRY_SIZE_BYTES", "MEDIA_ROOTS",
	"PORT", "METRICS_PORT", "METRICS_ENABLED", "LOG_HEALTH_CHECKS",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvKeys {
		// t.Setenv registers restoration; the explicit unset makes the
		// variable read as absent for the rest of the test.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.AMQPHostname != "localhost" {
		t.Errorf("AMQPHostname = %q, want %q", config.AMQPHostname, "localhost")
	}
	if config.AMQPPort != 5672 {
		t.Errorf("AMQPPort = %d, want %d", config.AMQPPort, 5672)
	}
	if config.PrefetchCount != 100 {
		t.Errorf("PrefetchCount = %d, want %d", config.PrefetchCount, 100)
	}
	if config.MaxRetryCount != 3 {
		t.Errorf("MaxRetryCount = %d, want %d", config.MaxRetryCount, 3)
	}
	if config.MessageTimeout != 24*time.Hour {
		t.Errorf("MessageTimeout = %v, want %v", config.MessageTimeout, 24*time.Hour)
	}
	if config.MongoURI != "mongodb://localhost:27017" {
		t.Errorf("MongoURI = %q, want default", config.MongoURI)
	}
	if config.MongoDatabase != "imageviewer" {
		t.Errorf("MongoDatabase = %q, want %q", config.MongoDatabase, "imageviewer")
	}
	if config.MongoConnectTimeout != 10*time.Second {
		t.Errorf("MongoConnectTimeout = %v, want %v", config.MongoConnectTimeout, 10*time.Second)
	}
	if config.MongoSocketTimeout != time.Minute {
		t.Errorf("MongoSocketTimeout = %v, want %v", config.MongoSocketTimeout, time.Minute)
	}
	if config.MongoMaxPoolSize != 100 {
		t.Errorf("MongoMaxPoolSize = %d, want %d", config.MongoMaxPoolSize, 100)
	}
	if !config.MongoRetryWrites {
		t.Error("Expected MongoRetryWrites to be true by default")
	}
	if config.WorkerConcurrency != 8 {
		t.Errorf("WorkerConcurrency = %d, want %d", config.WorkerConcurrency, 8)
	}
	if config.HandlerDeadline != 10*time.Minute {
		t.Errorf("HandlerDeadline = %v, want %v", config.HandlerDeadline, 10*time.Minute)
	}
	if config.StaleJobThreshold != 5*time.Minute {
		t.Errorf("StaleJobThreshold = %v, want %v", config.StaleJobThreshold, 5*time.Minute)
	}
	if config.Retention != 30*24*time.Hour {
		t.Errorf("Retention = %v, want %v", config.Retention, 30*24*time.Hour)
	}
	if config.FanOutStage {
		t.Error("Expected FanOutStage to be false by default")
	}
	if config.MaxImageSizeBytes != 500<<20 {
		t.Errorf("MaxImageSizeBytes = %d, want %d", config.MaxImageSizeBytes, int64(500<<20))
	}
	if config.MaxArchiveEntrySizeBytes != 20<<30 {
		t.Errorf("MaxArchiveEntrySizeBytes = %d, want %d", config.MaxArchiveEntrySizeBytes, int64(20<<30))
	}
	if len(config.MediaRoots) != 0 {
		t.Errorf("MediaRoots = %v, want none", config.MediaRoots)
	}
	if config.Port != "8080" {
		t.Errorf("Port = %q, want %q", config.Port, "8080")
	}
	if config.MetricsPort != "9090" {
		t.Errorf("MetricsPort = %q, want %q", config.MetricsPort, "9090")
	}
	if !config.MetricsEnabled {
		t.Error("Expected MetricsEnabled to be true by default")
	}
	if !config.LogHealthChecks {
		t.Error("Expected LogHealthChecks to be true by default")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("AMQP_HOSTNAME", "rabbit.internal")
	t.Setenv("AMQP_PORT", "5671")
	t.Setenv("AMQP_MESSAGE_TIMEOUT_HOURS", "48")
	t.Setenv("MONGO_CONNECT_TIMEOUT", "30s")
	t.Setenv("WORKER_CONCURRENCY", "16")
	t.Setenv("HANDLER_DEADLINE_SECONDS", "120")
	t.Setenv("RETENTION_DAYS", "7")
	t.Setenv("PIPELINE_FANOUT_STAGE", "true")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("MEDIA_ROOTS", "/mnt/photos, /mnt/scans,")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if config.AMQPHostname != "rabbit.internal" {
		t.Errorf("AMQPHostname = %q, want %q", config.AMQPHostname, "rabbit.internal")
	}
	if config.AMQPPort != 5671 {
		t.Errorf("AMQPPort = %d, want %d", config.AMQPPort, 5671)
	}
	if config.MessageTimeout != 48*time.Hour {
		t.Errorf("MessageTimeout = %v, want %v", config.MessageTimeout, 48*time.Hour)
	}
	if config.MongoConnectTimeout != 30*time.Second {
		t.Errorf("MongoConnectTimeout = %v, want %v", config.MongoConnectTimeout, 30*time.Second)
	}
	if config.WorkerConcurrency != 16 {
		t.Errorf("WorkerConcurrency = %d, want %d", config.WorkerConcurrency, 16)
	}
	if config.HandlerDeadline != 2*time.Minute {
		t.Errorf("HandlerDeadline = %v, want %v", config.HandlerDeadline, 2*time.Minute)
	}
	if config.Retention != 7*24*time.Hour {
		t.Errorf("Retention = %v, want %v", config.Retention, 7*24*time.Hour)
	}
	if !config.FanOutStage {
		t.Error("Expected FanOutStage to be true")
	}
	if config.MetricsEnabled {
		t.Error("Expected MetricsEnabled to be false")
	}
	if len(config.MediaRoots) != 2 || config.MediaRoots[0] != "/mnt/photos" || config.MediaRoots[1] != "/mnt/scans" {
		t.Errorf("MediaRoots = %v, want [/mnt/photos /mnt/scans]", config.MediaRoots)
	}
}

func TestLoadConfigRejectsBadPorts(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "Non-numeric PORT",
			env:  map[string]string{"PORT": "eighty"},
		},
		{
			name: "PORT out of range",
			env:  map[string]string{"PORT": "70000"},
		},
		{
			name: "Non-numeric METRICS_PORT",
			env:  map[string]string{"METRICS_PORT": "abc"},
		},
		{
			name: "PORT equals METRICS_PORT",
			env:  map[string]string{"PORT": "9000", "METRICS_PORT": "9000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if _, err := LoadConfig(); err == nil {
				t.Error("LoadConfig() error = nil, want error")
			}
		})
	}
}

func TestGetRoutes(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/health", func(http.ResponseWriter, *http.Request) {}).Methods("GET")
	router.HandleFunc("/api/jobs", func(http.ResponseWriter, *http.Request) {}).Methods("GET")
	router.HandleFunc("/api/jobs/{id}/cancel", func(http.ResponseWriter, *http.Request) {}).Methods("POST")

	routes, err := GetRoutes(router)
	if err != nil {
		t.Fatalf("GetRoutes() error = %v", err)
	}

	if len(routes) != 3 {
		t.Fatalf("len(routes) = %d, want 3", len(routes))
	}

	found := make(map[string]string)
	for _, r := range routes {
		found[r.Path] = r.Method
	}

	if found["/api/jobs/{id}/cancel"] != "POST" {
		t.Errorf("cancel route method = %q, want POST", found["/api/jobs/{id}/cancel"])
	}
	if found["/health"] != "GET" {
		t.Errorf("health route method = %q, want GET", found["/health"])
	}
}

func TestGetRouteGroup(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "health"},
		{"/readyz", "readyz"},
		{"/api/jobs", "api/jobs"},
		{"/api/jobs/{id}", "api/jobs"},
		{"/api/queues", "api/queues"},
		{"/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := getRouteGroup(tt.path); got != tt.want {
				t.Errorf("getRouteGroup(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
