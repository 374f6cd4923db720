package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects the function identity, the remote resources it was
// wired to, and its non-sensitive configuration, then emits one structured
// event summarising the cold-start state. When a run fails, this event tells
// you which cluster, warehouse and tables the container was pointed at.
type StartupLogger struct {
	name         string
	commitHash   string
	buildTime    string
	initDuration time.Duration

	clusters     map[string]string
	warehouses   map[string]string
	dynamoTables map[string]string
	ssmParams    map[string]string
	eventBuses   map[string]string
	features     map[string]bool
	config       map[string]string
}

// NewStartupLogger creates a StartupLogger for the given function name
// (e.g. "process-lambda").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:         name,
		clusters:     make(map[string]string),
		warehouses:   make(map[string]string),
		dynamoTables: make(map[string]string),
		ssmParams:    make(map[string]string),
		eventBuses:   make(map[string]string),
		features:     make(map[string]bool),
		config:       make(map[string]string),
	}
}

// CommitHash sets the git commit hash baked into the binary at build time.
func (s *StartupLogger) CommitHash(hash string) *StartupLogger {
	s.commitHash = hash
	return s
}

// BuildTime sets the UTC build timestamp baked into the binary at build time.
func (s *StartupLogger) BuildTime(t string) *StartupLogger {
	s.buildTime = t
	return s
}

// Cluster registers the EMR cluster jobs are submitted to.
func (s *StartupLogger) Cluster(label, name string) *StartupLogger {
	s.clusters[label] = name
	return s
}

// Warehouse registers a Redshift endpoint (workgroup or cluster identifier).
func (s *StartupLogger) Warehouse(label, endpoint string) *StartupLogger {
	s.warehouses[label] = endpoint
	return s
}

// DynamoTable registers a DynamoDB table used by this function.
func (s *StartupLogger) DynamoTable(label, name string) *StartupLogger {
	s.dynamoTables[label] = name
	return s
}

// SSMParam registers an SSM parameter path loaded at startup.
// Only the path is logged, never the value.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	s.ssmParams[label] = path
	return s
}

// EventBus registers an EventBridge bus that run outcomes are published to.
func (s *StartupLogger) EventBus(label, name string) *StartupLogger {
	s.eventBuses[label] = name
	return s
}

// Feature registers a boolean feature flag (e.g. "runLedger", "tagObjects").
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long initialization took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log emits a single structured INFO event with everything collected.
func (s *StartupLogger) Log() {
	evt := log.Info()

	fn := zerolog.Dict().
		Str("name", s.name).
		Str("functionName", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")).
		Str("version", os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")).
		Str("region", os.Getenv("AWS_REGION")).
		Str("memoryMB", os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", os.Getenv("PIPELINE_LOG_LEVEL"))
	if s.commitHash != "" {
		fn = fn.Str("commitHash", s.commitHash)
	}
	if s.buildTime != "" {
		fn = fn.Str("buildTime", s.buildTime)
	}
	evt = evt.Dict("function", fn)

	resources := zerolog.Dict()
	hasResources := false
	for _, group := range []struct {
		key string
		m   map[string]string
	}{
		{"clusters", s.clusters},
		{"warehouses", s.warehouses},
		{"dynamoTables", s.dynamoTables},
		{"ssmParams", s.ssmParams},
		{"eventBuses", s.eventBuses},
	} {
		if len(group.m) > 0 {
			resources = resources.Dict(group.key, dictFromMap(group.m))
			hasResources = true
		}
	}
	if hasResources {
		evt = evt.Dict("resources", resources)
	}

	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}

	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}

	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Cold start complete")
}

func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
