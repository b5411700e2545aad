package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lox/emissionwatch/internal/regress"
	"github.com/lox/emissionwatch/internal/threshold"
)

type Config struct {
	Port           string `mapstructure:"port"`
	DBPath         string `mapstructure:"db_path"`
	TrainingData   string `mapstructure:"training_data"`
	ThresholdsFile string `mapstructure:"thresholds_file"`
	MaxUploadMB    int64  `mapstructure:"max_upload_mb"`
	OpenAIModel    string `mapstructure:"openai_model"`
	FetchTimeout   int    `mapstructure:"fetch_timeout_sec"`
	SummaryCache   string `mapstructure:"summary_cache_dir"`
	UploadKeepDays int    `mapstructure:"upload_retention_days"`

	// Model
	Trees        int     `mapstructure:"trees"`
	Leaves       int     `mapstructure:"leaves"`
	MinLeaf      int     `mapstructure:"min_leaf"`
	LearningRate float64 `mapstructure:"learning_rate"`
	Seed         uint64  `mapstructure:"seed"`
	TextBuckets  int     `mapstructure:"text_buckets"`
}

// Load reads configuration from defaults, an optional YAML file and
// EMISSIONWATCH_* environment variables, in increasing precedence.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EMISSIONWATCH")
	v.AutomaticEnv()

	d := regress.DefaultParams()
	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "data/emissionwatch.db")
	v.SetDefault("training_data", "data/training.csv")
	v.SetDefault("thresholds_file", "thresholds.yaml")
	v.SetDefault("max_upload_mb", 32)
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("fetch_timeout_sec", 120)
	v.SetDefault("summary_cache_dir", "data/summaries")
	v.SetDefault("upload_retention_days", 90)
	v.SetDefault("trees", d.Trees)
	v.SetDefault("leaves", d.Leaves)
	v.SetDefault("min_leaf", d.MinSamplesLeaf)
	v.SetDefault("learning_rate", d.LearningRate)
	v.SetDefault("seed", 0)
	v.SetDefault("text_buckets", 64)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("emissionwatch")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	return &c, nil
}

// Params returns the model training parameters.
func (c *Config) Params() regress.Params {
	p := regress.DefaultParams()
	p.Trees = c.Trees
	p.Leaves = c.Leaves
	p.MinSamplesLeaf = c.MinLeaf
	p.LearningRate = c.LearningRate
	p.Seed = c.Seed
	return p
}

func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// LoadThresholds reads per-parameter limits from the parameter_codes mapping
// of a YAML file. Entries keep document order, so a code listed twice takes
// its last value. A missing file means no thresholds.
func LoadThresholds(path string) ([]threshold.Entry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("config: thresholds file %s not found, no thresholds configured", path)
			return nil, nil
		}
		return nil, fmt.Errorf("read thresholds: %w", err)
	}
	return ParseThresholds(data)
}

func ParseThresholds(data []byte) ([]threshold.Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse thresholds: line %d: expected a mapping", root.Line)
	}

	var codes *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "parameter_codes" {
			codes = root.Content[i+1]
		}
	}
	if codes == nil || codes.Tag == "!!null" {
		return nil, nil
	}
	if codes.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse thresholds: line %d: parameter_codes must be a mapping", codes.Line)
	}

	entries := make([]threshold.Entry, 0, len(codes.Content)/2)
	for i := 0; i+1 < len(codes.Content); i += 2 {
		key, val := codes.Content[i], codes.Content[i+1]
		limit, err := strconv.ParseFloat(val.Value, 64)
		if err != nil || val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("parse thresholds: line %d: %s: %q is not a number", val.Line, key.Value, val.Value)
		}
		entries = append(entries, threshold.Entry{Code: key.Value, Limit: limit})
	}
	return entries, nil
}
