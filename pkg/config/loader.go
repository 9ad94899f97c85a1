package config

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/nebula-cdk/pkg/errors"
	"github.com/ajitpratap0/nebula-cdk/pkg/incremental"
)

// EnvPrefix prefixes environment overrides: NEBULA_CDK_STATE_DSN overrides state.dsn.
const EnvPrefix = "NEBULA_CDK"

// boundEnv lists keys that can be overridden from the environment even when
// the file does not mention them.
var boundEnv = []string{
	"state.backend",
	"state.path",
	"state.dsn",
	"state.table",
	"log.level",
	"log.encoding",
	"tracing.enabled",
	"http.auth.token",
	"http.auth.password",
	"http.auth.api_key",
	"http.auth.client_secret",
}

// Load reads a stream definition from a YAML file.
func Load(filePath string) (*StreamConfig, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
			WithDetail("path", filePath)
	}
	return Parse(data)
}

// Parse decodes a stream definition. ${VAR} and ${VAR:-default} references
// are substituted first, then NEBULA_CDK_* variables override file values.
func Parse(data []byte) (*StreamConfig, error) {
	content := []byte(substituteEnvVars(string(data)))

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range boundEnv {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to bind environment")
		}
	}

	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
	}

	cfg := Default()
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		minMaxDatetimeHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}

	if err := restoreKeyCase(content, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML. The file may hold credentials, so it is not world readable.
func Save(filePath string, cfg *StreamConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}

	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to write config file").
			WithDetail("path", filePath)
	}
	return nil
}

// keyCased mirrors the maps whose keys are user data. Viper folds keys to
// lower case, so these are decoded again straight from the YAML.
type keyCased struct {
	Requester struct {
		Headers map[string]any `yaml:"headers"`
		Params  map[string]any `yaml:"params"`
	} `yaml:"requester"`
	HTTP struct {
		Auth struct {
			EndpointParams map[string]any `yaml:"endpoint_params"`
		} `yaml:"auth"`
	} `yaml:"http"`
	Config map[string]any `yaml:"config"`
}

func restoreKeyCase(content []byte, cfg *StreamConfig) error {
	var raw keyCased
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
	}
	if raw.Requester.Headers != nil {
		cfg.Requester.Headers = stringMap(raw.Requester.Headers)
	}
	if raw.Requester.Params != nil {
		cfg.Requester.Params = stringMap(raw.Requester.Params)
	}
	if raw.HTTP.Auth.EndpointParams != nil {
		cfg.HTTP.Auth.EndpointParams = stringMap(raw.HTTP.Auth.EndpointParams)
	}
	if raw.Config != nil {
		cfg.Config = raw.Config
	}
	return nil
}

func stringMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		if v == nil {
			out[k] = ""
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// minMaxDatetimeHook accepts a bare scalar wherever a datetime bound is expected.
func minMaxDatetimeHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(incremental.MinMaxDatetime{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return incremental.MinMaxDatetime{Datetime: v}, nil
	case time.Time:
		return incremental.MinMaxDatetime{Datetime: v.UTC().Format(time.RFC3339Nano)}, nil
	case int:
		return incremental.MinMaxDatetime{Datetime: strconv.Itoa(v)}, nil
	case int64:
		return incremental.MinMaxDatetime{Datetime: strconv.FormatInt(v, 10)}, nil
	case float64:
		return incremental.MinMaxDatetime{Datetime: strconv.FormatFloat(v, 'f', -1, 64)}, nil
	}
	return data, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// ${VAR_NAME:-default} falls back to default when VAR_NAME is unset or empty.
func substituteEnvVars(content string) string {
	var b strings.Builder
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

		varName, def, hasDefault := strings.Cut(content[start+2:end], ":-")
		value := os.Getenv(varName)
		if value == "" && hasDefault {
			value = def
		}
		b.WriteString(content[:start])
		b.WriteString(value)
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
