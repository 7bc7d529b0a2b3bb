package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tb3nav/navseq/internal/util"
	"github.com/tb3nav/navseq/pkg/core"
)

// ConfigName is the file name Load looks for in the config directory.
const ConfigName = "navseq.cfg.json"

// EnvPrefix is prepended to environment overrides, e.g. NAVSEQ_LOGLEVEL.
const EnvPrefix = "NAVSEQ"

// Unavailable policies.
const (
	PolicyAbort    = "abort"
	PolicyContinue = "continue"
)

// DefaultGoals are used when neither the config file nor the environment provide any.
var DefaultGoals = [][]float64{
	{0.7, 1.6, 0.0, 0.0, 0.33, 0.94},
	{5.7, -3.9, 0.0, 0.0, -0.44, 0.89},
	{-6.0, -3.1, 0.0, 0.0, -0.29, 0.95},
}

// ActionConfig describes how to reach the navigation action server.
type ActionConfig struct {
	Name          string
	URL           string
	Secret        string
	FrameID       string
	ServerTimeout time.Duration
	ResultTimeout time.Duration // 0 waits forever
}

// SequencerConfig holds the run policy.
type SequencerConfig struct {
	OnUnavailable   string
	ReuseConnection bool
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds SQLite storage backend settings
type SQLiteConfig struct {
	DumpInterval time.Duration
	OutputDir    string
}

// StorageConfig selects and configures the result storage backends.
type StorageConfig struct {
	Type   string
	Memory MemoryConfig
	SQLite SQLiteConfig
	Influx bool
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// SetDefaults registers every default value. Load calls it; it is exported
// so callers that skip the config file still get a complete configuration.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./navseqlogs")

	viper.SetDefault("action.name", "move_base")
	viper.SetDefault("action.url", "ws://localhost:9090/action")
	viper.SetDefault("action.secret", "")
	viper.SetDefault("action.frameId", core.DefaultFrameID)
	viper.SetDefault("action.serverTimeout", "30s")
	viper.SetDefault("action.resultTimeout", "0s")

	viper.SetDefault("api.serverUrl", "http://localhost:9090")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.uploadReport", false)

	viper.SetDefault("sequencer.onUnavailable", PolicyAbort)
	viper.SetDefault("sequencer.reuseConnection", false)

	viper.SetDefault("goals", DefaultGoals)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./runs")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.dumpInterval", "1m")
	viper.SetDefault("storage.sqlite.outputDir", "./runs")
	viper.SetDefault("storage.influx", false)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "navseq")

	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "navseq")
	viper.SetDefault("influx.bucket", "navigation")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "navseq")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("map.geoOrigin", []float64{})

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(ConfigName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetActionConfig returns the action server settings.
func GetActionConfig() ActionConfig {
	return ActionConfig{
		Name:          viper.GetString("action.name"),
		URL:           viper.GetString("action.url"),
		Secret:        viper.GetString("action.secret"),
		FrameID:       viper.GetString("action.frameId"),
		ServerTimeout: viper.GetDuration("action.serverTimeout"),
		ResultTimeout: viper.GetDuration("action.resultTimeout"),
	}
}

// GetSequencerConfig returns the run policy, validating the unavailable policy name.
func GetSequencerConfig() (SequencerConfig, error) {
	policy := strings.ToLower(viper.GetString("sequencer.onUnavailable"))
	switch policy {
	case PolicyAbort, PolicyContinue:
	default:
		return SequencerConfig{}, fmt.Errorf("unknown sequencer.onUnavailable policy: %q", policy)
	}
	return SequencerConfig{
		OnUnavailable:   policy,
		ReuseConnection: viper.GetBool("sequencer.reuseConnection"),
	}, nil
}

// GetGoals returns the configured goal list in order. A string value (from
// the environment or a flag) is parsed as "x,y,qx,qy,qz,qw;...".
func GetGoals() ([]core.Goal, error) {
	raw := viper.Get("goals")
	switch v := raw.(type) {
	case string:
		return util.ParseGoalList(v)
	case [][]float64:
		return tuplesToGoals(v)
	case []any:
		tuples := make([][]float64, 0, len(v))
		for i, item := range v {
			t, err := toFloatSlice(item)
			if err != nil {
				return nil, fmt.Errorf("goal %d: %w", i+1, err)
			}
			tuples = append(tuples, t)
		}
		return tuplesToGoals(tuples)
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported goals value of type %T", raw)
	}
}

// GetStorageConfig returns the storage backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			OutputDir:    viper.GetString("storage.sqlite.outputDir"),
		},
		Influx: viper.GetBool("storage.influx"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetGeoOrigin returns the WGS84 (lon, lat) of the map frame origin, if set.
func GetGeoOrigin() (lon, lat float64, ok bool) {
	origin, err := toFloatSlice(viper.Get("map.geoOrigin"))
	if err != nil || len(origin) != 2 {
		return 0, 0, false
	}
	return origin[0], origin[1], true
}

func tuplesToGoals(tuples [][]float64) ([]core.Goal, error) {
	goals := make([]core.Goal, 0, len(tuples))
	for i, t := range tuples {
		g, err := core.GoalFromTuple(t)
		if err != nil {
			return nil, fmt.Errorf("goal %d: %w", i+1, err)
		}
		goals = append(goals, g)
	}
	return goals, nil
}

func toFloatSlice(v any) ([]float64, error) {
	switch s := v.(type) {
	case []float64:
		return s, nil
	case []any:
		out := make([]float64, 0, len(s))
		for _, item := range s {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case float32:
				out = append(out, float64(n))
			case int:
				out = append(out, float64(n))
			case int64:
				out = append(out, float64(n))
			default:
				return nil, fmt.Errorf("non-numeric value %v", item)
			}
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected a list of numbers, got %T", v)
	}
}
