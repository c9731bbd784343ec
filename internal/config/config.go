// Package config loads the application configuration from a YAML file,
// environment variables and an optional .env file.
package config

import "time"

// Config is the root application configuration.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Dataset DatasetConfig `yaml:"dataset"`
	Output  OutputConfig  `yaml:"output"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Workers int           `yaml:"workers" env:"WORKERS" env-default:"4"`
}

// ModelConfig holds model file and tokenizer settings.
type ModelConfig struct {
	Path          string `yaml:"path"           env:"MODEL_PATH"           env-default:"model/naive_bayes.json"`
	Normalization string `yaml:"normalization"  env:"MODEL_NORMALIZATION"`
	StemLanguage  string `yaml:"stem_language"  env:"MODEL_STEM_LANGUAGE"`
}

// DatasetConfig names the input columns and where cleaned comment files live.
type DatasetConfig struct {
	TextColumn   string `yaml:"text_column"   env:"DATASET_TEXT_COLUMN"   env-default:"text"`
	LabelColumn  string `yaml:"label_column"  env:"DATASET_LABEL_COLUMN"  env-default:"label"`
	DataDir      string `yaml:"data_dir"      env:"DATASET_DATA_DIR"      env-default:"data"`
	CleanPattern string `yaml:"clean_pattern" env:"DATASET_CLEAN_PATTERN" env-default:"clean_comments*.csv"`
}

// OutputConfig controls prediction result files.
type OutputConfig struct {
	Dir      string `yaml:"dir"      env:"OUTPUT_DIR"      env-default:"result"`
	Prefix   string `yaml:"prefix"   env:"OUTPUT_PREFIX"   env-default:"test_results"`
	Encoding string `yaml:"encoding" env:"OUTPUT_ENCODING" env-default:"utf-8-sig"`
}

// WriteBOM reports whether result files start with a UTF-8 byte order mark.
func (c OutputConfig) WriteBOM() bool {
	return c.Encoding == "utf-8-sig"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `yaml:"port"             env:"SERVER_PORT"             env-default:"8000"`
	AuthToken       string        `yaml:"auth_token"       env:"SERVER_AUTH_TOKEN"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"   env:"SERVER_MAX_BODY_BYTES"   env-default:"1048576"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// StoreConfig configures the prediction history. An empty path disables it.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path" env:"STORE_SQLITE_PATH"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}
