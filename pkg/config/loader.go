package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// METASYNC_META_ACCESS_TOKEN for meta.access_token.
const EnvPrefix = "METASYNC"

// Load resolves the configuration from defaults, the optional YAML file at
// path (empty means none) and the environment, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dump renders cfg as YAML with secrets masked.
func Dump(cfg *Config) ([]byte, error) {
	masked := *cfg
	if masked.Meta.AccessToken != "" {
		masked.Meta.AccessToken = "****"
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}

// setDefaults registers every key of def with viper so AutomaticEnv can
// resolve overrides for keys absent from the file.
func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.read_header_timeout", def.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", def.Server.ShutdownTimeout)
	v.SetDefault("server.job_timeout", def.Server.JobTimeout)

	v.SetDefault("meta.base_url", def.Meta.BaseURL)
	v.SetDefault("meta.api_version", def.Meta.APIVersion)
	v.SetDefault("meta.access_token", def.Meta.AccessToken)
	v.SetDefault("meta.page_size", def.Meta.PageSize)
	v.SetDefault("meta.request_timeout", def.Meta.RequestTimeout)
	v.SetDefault("meta.inter_page_delay", def.Meta.InterPageDelay)
	v.SetDefault("meta.empty_page_retries", def.Meta.EmptyPageRetries)
	v.SetDefault("meta.breaker_threshold", def.Meta.BreakerThreshold)
	v.SetDefault("meta.breaker_timeout", def.Meta.BreakerTimeout)

	v.SetDefault("warehouse.driver", def.Warehouse.Driver)
	v.SetDefault("warehouse.project_id", def.Warehouse.ProjectID)
	v.SetDefault("warehouse.dataset", def.Warehouse.Dataset)
	v.SetDefault("warehouse.location", def.Warehouse.Location)
	v.SetDefault("warehouse.credentials_file", def.Warehouse.CredentialsFile)
	v.SetDefault("warehouse.dsn", def.Warehouse.DSN)
	v.SetDefault("warehouse.staging_bucket", def.Warehouse.StagingBucket)
	v.SetDefault("warehouse.staging_prefix", def.Warehouse.StagingPrefix)

	v.SetDefault("sync.account_ids", def.Sync.AccountIDs)
	v.SetDefault("sync.tables", def.Sync.Tables)
	v.SetDefault("sync.write_mode", def.Sync.WriteMode)
	v.SetDefault("sync.timezone_offset", def.Sync.TimezoneOffset)

	v.SetDefault("retry.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", def.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", def.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", def.Retry.Multiplier)
	v.SetDefault("retry.jitter", def.Retry.Jitter)

	v.SetDefault("extract.max_concurrency", def.Extract.MaxConcurrency)

	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.development", def.Logging.Development)
	v.SetDefault("logging.encoding", def.Logging.Encoding)
	v.SetDefault("logging.output_paths", def.Logging.OutputPaths)

	v.SetDefault("observability.service_name", def.Observability.ServiceName)
	v.SetDefault("observability.metrics", def.Observability.Metrics)
	v.SetDefault("observability.tracing", def.Observability.Tracing)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		content = content[:start] + os.Getenv(varName) + content[end+1:]
	}
	return content
}
