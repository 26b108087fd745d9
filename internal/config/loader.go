package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: horizon_slices is read from
// SOLAR_HORIZON_SLICES and irradiation.engine from SOLAR_IRRADIATION_ENGINE.
const EnvPrefix = "SOLAR"

// maxFileSize caps config files.
const maxFileSize = 1 * 1024 * 1024

var allowedExtensions = map[string]bool{".json": true, ".yaml": true, ".yml": true, ".toml": true}

func checkFile(path string, allowed map[string]bool) (string, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); !allowed[ext] {
		return "", fmt.Errorf("unsupported config file extension %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	return cleanPath, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(JobConfig{}), "")
	return v
}

// bindEnvs registers every mapstructure key so AutomaticEnv can override
// keys the file does not mention.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, f.Type, key+".")
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Load reads a JSON, YAML or TOML job file, applies SOLAR_* environment
// overrides and validates the result. An empty path loads from the
// environment alone.
func Load(path string) (*JobConfig, error) {
	v := newViper()
	if path != "" {
		cleanPath, err := checkFile(path, allowedExtensions)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(cleanPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", cleanPath, err)
		}
	}

	cfg := EmptyJobConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadJSON reads a job file as strict JSON with no environment overrides.
// Unknown keys are rejected.
func LoadJSON(path string) (*JobConfig, error) {
	cleanPath, err := checkFile(path, map[string]bool{".json": true})
	if err != nil {
		return nil, err
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	cfg := EmptyJobConfig()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// JSON renders the config for storage with a job.
func (c *JobConfig) JSON() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(b), nil
}
