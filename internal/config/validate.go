package config

import (
	"fmt"
	"strings"
)

// Validate checks the loaded configuration. Load calls it automatically.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1 (got %d)", c.Workers)
	}

	if strings.TrimSpace(c.Model.Path) == "" {
		return fmt.Errorf("model.path must not be empty")
	}
	switch c.Model.Normalization {
	case "", "nfc", "nfkc":
	default:
		return fmt.Errorf("model.normalization must be one of nfc, nfkc (got %q)", c.Model.Normalization)
	}

	if c.Dataset.TextColumn == "" || c.Dataset.LabelColumn == "" {
		return fmt.Errorf("dataset.text_column and dataset.label_column must be set")
	}
	if c.Dataset.TextColumn == c.Dataset.LabelColumn {
		return fmt.Errorf("dataset.text_column and dataset.label_column must differ (both %q)", c.Dataset.TextColumn)
	}

	if c.Output.Prefix == "" {
		return fmt.Errorf("output.prefix must not be empty")
	}
	switch c.Output.Encoding {
	case "utf-8", "utf-8-sig":
	default:
		return fmt.Errorf("output.encoding must be utf-8 or utf-8-sig (got %q)", c.Output.Encoding)
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0 (got %d)", c.Server.MaxBodyBytes)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json (got %q)", c.Log.Format)
	}

	return nil
}
