package startup

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"imageviewer-pipeline/internal/logging"

	"github.com/gorilla/mux"
)

// Set at build time through -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo describes the running binary. Served verbatim by /version.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo reports the binary's version information.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo is one method+path pair registered on the operator router.
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

const divider = "------------------------------------------------------------"

// section prints the banner heading for the next startup phase.
func section(format string, args ...interface{}) {
	logging.Info("")
	logging.Info(divider)
	logging.Info(format, args...)
	logging.Info(divider)
}

// Config holds all daemon configuration
type Config struct {
	// Broker
	AMQPHostname     string
	AMQPPort         int
	AMQPUsername     string
	AMQPPassword     string
	AMQPVHost        string
	PrefetchCount    int
	MaxRetryCount    int
	MessageTimeout   time.Duration
	MaxQueueLength   int64
	MessageBatchSize int

	// Store
	MongoURI            string
	MongoDatabase       string
	MongoConnectTimeout time.Duration
	MongoSocketTimeout  time.Duration
	MongoMaxPoolSize    uint64
	MongoMinPoolSize    uint64
	MongoRetryWrites    bool

	// Workers
	WorkerConcurrency int
	HandlerDeadline   time.Duration
	StaleJobThreshold time.Duration
	Retention         time.Duration
	FanOutStage       bool

	// Entry size caps
	MaxImageSizeBytes        int64
	MaxArchiveEntrySizeBytes int64

	// Media mount roots, for labeling filesystem metrics by volume
	MediaRoots []string

	// Operator server
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	LogHealthChecks bool
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	section("CONFIGURATION")

	config := &Config{
		AMQPHostname:     getEnv("AMQP_HOSTNAME", "localhost"),
		AMQPPort:         getEnvInt("AMQP_PORT", 5672),
		AMQPUsername:     getEnv("AMQP_USERNAME", "guest"),
		AMQPPassword:     getEnv("AMQP_PASSWORD", "guest"),
		AMQPVHost:        getEnv("AMQP_VHOST", "/"),
		PrefetchCount:    getEnvInt("AMQP_PREFETCH_COUNT", 100),
		MaxRetryCount:    getEnvInt("AMQP_MAX_RETRY_COUNT", 3),
		MaxQueueLength:   getEnvInt64("AMQP_MAX_QUEUE_LENGTH", 50_000_000),
		MessageBatchSize: getEnvInt("AMQP_MESSAGE_BATCH_SIZE", 100),

		MongoURI:            getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:       getEnv("MONGO_DATABASE", "imageviewer"),
		MongoConnectTimeout: getEnvDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second),
		MongoSocketTimeout:  getEnvDuration("MONGO_SOCKET_TIMEOUT", time.Minute),
		MongoRetryWrites:    getEnvBool("MONGO_RETRY_WRITES", true),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 8),
		FanOutStage:       getEnvBool("PIPELINE_FANOUT_STAGE", false),

		MaxImageSizeBytes:        getEnvInt64("MAX_IMAGE_SIZE_BYTES", 500<<20),
		MaxArchiveEntrySizeBytes: getEnvInt64("MAX_ARCHIVE_ENTRY_SIZE_BYTES", 20<<30),

		MediaRoots: getEnvList("MEDIA_ROOTS"),

		Port:            getEnv("PORT", "8080"),
		MetricsPort:     getEnv("METRICS_PORT", "9090"),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		LogHealthChecks: getEnvBool("LOG_HEALTH_CHECKS", true),
	}

	config.MessageTimeout = time.Duration(getEnvInt("AMQP_MESSAGE_TIMEOUT_HOURS", 24)) * time.Hour
	config.HandlerDeadline = time.Duration(getEnvInt("HANDLER_DEADLINE_SECONDS", 600)) * time.Second
	config.StaleJobThreshold = time.Duration(getEnvInt("STALE_JOB_THRESHOLD_SECONDS", 300)) * time.Second
	config.Retention = time.Duration(getEnvInt("RETENTION_DAYS", 30)) * 24 * time.Hour
	config.MongoMaxPoolSize = uint64(getEnvInt("MONGO_MAX_POOL_SIZE", 100))
	config.MongoMinPoolSize = uint64(getEnvInt("MONGO_MIN_POOL_SIZE", 0))

	logging.Info("  AMQP_HOSTNAME:               %s", config.AMQPHostname)
	logging.Info("  AMQP_PORT:                   %d", config.AMQPPort)
	logging.Info("  AMQP_USERNAME:               %s", config.AMQPUsername)
	logging.Info("  AMQP_PASSWORD:               %s", maskSecret(config.AMQPPassword))
	logging.Info("  AMQP_VHOST:                  %s", config.AMQPVHost)
	logging.Info("  AMQP_PREFETCH_COUNT:         %d", config.PrefetchCount)
	logging.Info("  AMQP_MAX_RETRY_COUNT:        %d", config.MaxRetryCount)
	logging.Info("  AMQP_MESSAGE_TIMEOUT_HOURS:  %d", int(config.MessageTimeout.Hours()))
	logging.Info("  AMQP_MAX_QUEUE_LENGTH:       %d", config.MaxQueueLength)
	logging.Info("  AMQP_MESSAGE_BATCH_SIZE:     %d", config.MessageBatchSize)
	logging.Info("  MONGO_URI:                   %s", sanitizeURI(config.MongoURI))
	logging.Info("  MONGO_DATABASE:              %s", config.MongoDatabase)
	logging.Info("  MONGO_CONNECT_TIMEOUT:       %v", config.MongoConnectTimeout)
	logging.Info("  MONGO_SOCKET_TIMEOUT:        %v", config.MongoSocketTimeout)
	logging.Info("  MONGO_MAX_POOL_SIZE:         %d", config.MongoMaxPoolSize)
	logging.Info("  MONGO_MIN_POOL_SIZE:         %d", config.MongoMinPoolSize)
	logging.Info("  MONGO_RETRY_WRITES:          %v", config.MongoRetryWrites)
	logging.Info("  WORKER_CONCURRENCY:          %d", config.WorkerConcurrency)
	logging.Info("  HANDLER_DEADLINE_SECONDS:    %d", int(config.HandlerDeadline.Seconds()))
	logging.Info("  STALE_JOB_THRESHOLD_SECONDS: %d", int(config.StaleJobThreshold.Seconds()))
	logging.Info("  RETENTION_DAYS:              %d", int(config.Retention.Hours()/24))
	logging.Info("  PIPELINE_FANOUT_STAGE:       %v", config.FanOutStage)
	logging.Info("  MAX_IMAGE_SIZE_BYTES:        %d", config.MaxImageSizeBytes)
	logging.Info("  MAX_ARCHIVE_ENTRY_SIZE:      %d", config.MaxArchiveEntrySizeBytes)
	logging.Info("  MEDIA_ROOTS:                 %s", orNone(strings.Join(config.MediaRoots, ", ")))
	logging.Info("  PORT:                        %s", config.Port)
	logging.Info("  METRICS_PORT:                %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:             %v", config.MetricsEnabled)
	logging.Info("  LOG_HEALTH_CHECKS:           %v", config.LogHealthChecks)
	logging.Info("  LOG_LEVEL:                   %s", logging.GetLevel())

	if err := validatePort("PORT", config.Port); err != nil {
		return nil, err
	}
	if err := validatePort("METRICS_PORT", config.MetricsPort); err != nil {
		return nil, err
	}
	if config.AMQPPort < 1 || config.AMQPPort > 65535 {
		return nil, fmt.Errorf("AMQP_PORT %d out of range", config.AMQPPort)
	}
	if config.Port == config.MetricsPort {
		return nil, fmt.Errorf("PORT and METRICS_PORT must differ (both %s)", config.Port)
	}

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Metrics:       %s", enabledString(config.MetricsEnabled))
	logging.Info("    Fan-out stage: %s", enabledString(config.FanOutStage))

	return config, nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

func validatePort(name, value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s is not a number: %q", name, value)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "********"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// sanitizeURI strips any credential portion from a connection URI before
// it reaches the log.
func sanitizeURI(uri string) string {
	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return uri
	}
	rest := uri[schemeEnd+3:]
	at := strings.LastIndex(rest, "@")
	if at == -1 {
		return uri
	}
	return uri[:schemeEnd+3] + "***@" + rest[at+1:]
}

// LogStoreInit logs document store initialization
func LogStoreInit(database string, duration time.Duration) {
	section("STORE INITIALIZATION")
	logging.Info("  [OK] Connected to MongoDB database %q in %v", database, duration)
}

// LogIndexesEnsured logs index creation completion
func LogIndexesEnsured(duration time.Duration) {
	logging.Info("  [OK] Indexes ensured in %v", duration)
}

// LogBrokerInit logs message broker initialization
func LogBrokerInit(hostname string, port int, duration time.Duration) {
	section("BROKER INITIALIZATION")
	logging.Info("  [OK] Connected to RabbitMQ at %s:%d in %v", hostname, port, duration)
}

// LogTopologyDeclared logs exchange and queue declaration completion
func LogTopologyDeclared(queues int) {
	logging.Info("  [OK] Topology declared (%d queues + dead-letter)", queues)
}

// LogRenderInit logs image render backend availability
func LogRenderInit(vipsAvailable bool) {
	section("RENDER INITIALIZATION")
	if vipsAvailable {
		logging.Info("  [OK] libvips available")
	} else {
		logging.Warn("  libvips unavailable, falling back to pure Go decoding")
		logging.Warn("  WebP output will not be produced")
	}
}

// LogResumeInit logs the start of crash recovery
func LogResumeInit() {
	section("CRASH RESUME")
	logging.Info("  Scanning for incomplete jobs...")
}

// LogResumeComplete logs crash recovery completion
func LogResumeComplete(duration time.Duration) {
	logging.Info("  [OK] Recovery pass finished in %v", duration)
}

// LogPipelineInit logs consumer pool startup
func LogPipelineInit(consumers int, deadline time.Duration) {
	section("PIPELINE STARTUP")
	logging.Info("  Consumers per queue: %d", consumers)
	logging.Info("  Handler deadline:    %v", deadline)
}

// LogPipelineStarted logs successful consumer attachment
func LogPipelineStarted() {
	logging.Info("  [OK] Consumers attached")
}

// LogMonitorStarted logs progress monitor startup
func LogMonitorStarted(interval time.Duration) {
	logging.Info("  [OK] Progress monitor started (sweep every %v)", interval)
}

// GetRoutes walks the router and returns one entry per method+path pair.
// Routes without a method matcher come back as "*".
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return err
		}
		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}
		for _, m := range methods {
			routes = append(routes, RouteInfo{Method: m, Path: path, Name: route.GetName()})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes announces the operator surface. The per-route listing is
// debug-only noise.
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	section("HTTP SERVER SETUP")

	if logging.IsDebugEnabled() {
		debugRouteListing(router)
	}

	logging.Info("  HTTP logging enabled")
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

func debugRouteListing(router *mux.Router) {
	routes, err := GetRoutes(router)
	if err != nil {
		logging.Warn("error walking routes: %v", err)
	}

	byGroup := make(map[string][]RouteInfo)
	for _, r := range routes {
		g := getRouteGroup(r.Path)
		byGroup[g] = append(byGroup[g], r)
	}

	names := make([]string, 0, len(byGroup))
	for g := range byGroup {
		names = append(names, g)
	}
	sort.Strings(names)

	logging.Debug("  Registered routes (%d total):", len(routes))
	logging.Debug("")
	for _, g := range names {
		label := g
		if label == "" {
			label = "root"
		}
		logging.Debug("  [%s]", label)
		for _, r := range byGroup[g] {
			logging.Debug("    %-6s %s", r.Method, r.Path)
		}
		logging.Debug("")
	}
}

// getRouteGroup buckets a route path for the debug listing: by first path
// segment, except API routes which group by resource ("api/jobs").
func getRouteGroup(path string) string {
	segs := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if segs[0] == "api" && len(segs) > 1 {
		return "api/" + segs[1]
	}
	return segs[0]
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	section("SERVER STARTED")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Operator API:  http://0.0.0.0:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Local access:")
	logging.Info("    Operator API:  http://localhost:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://localhost:%s/metrics", config.MetricsPort)
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info(divider)
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	section("SHUTDOWN INITIATED (received %s)", signal)
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	banner := `
------------------------------------------------------------
    ____  _            ___
   / __ \(_)___  ___  / (_)___  ___
  / /_/ / / __ \/ _ \/ / / __ \/ _ \
 / ____/ / /_/ /  __/ / / / / /  __/
/_/   /_/ .___/\___/_/_/_/ /_/\___/
       /_/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
}

func logSystemInfo() {
	section("SYSTEM INFORMATION")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))
	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if wd, err := os.Getwd(); err == nil {
		logging.Debug("  Working dir:     %s", wd)
	}
	if hostname, err := os.Hostname(); err == nil {
		logging.Debug("  Hostname:        %s", hostname)
	}
}

// parseEnv reads key and converts it with parse. Unset means the default;
// a malformed value is logged and also falls back to the default.
func parseEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	parsed, err := parse(raw)
	if err != nil {
		logging.Warn("Ignoring %s=%q: %v (using %v)", key, raw, err, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, strconv.ParseBool)
}

func getEnvInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, strconv.Atoi)
}

func getEnvInt64(key string, defaultValue int64) int64 {
	return parseEnv(key, defaultValue, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, time.ParseDuration)
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
