package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrHelp = errors.New("help requested")

type Config struct {
	Listen         string   `mapstructure:"listen"`
	ModelsDir      string   `mapstructure:"models_dir"`
	ModelV1        string   `mapstructure:"model_v1"`
	ModelV2        string   `mapstructure:"model_v2"`
	Backend        string   `mapstructure:"backend"`
	EmbeddingSize  int      `mapstructure:"embedding_size"`
	HiddenSize     int      `mapstructure:"hidden_size"`
	MaxLength      int      `mapstructure:"max_length"`
	Normalize      bool     `mapstructure:"normalize"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
	BodyLimit      string   `mapstructure:"body_limit"`
	Metrics        bool     `mapstructure:"metrics"`
	Preload        []int    `mapstructure:"preload"`
	Serve          bool     `mapstructure:"serve"`
	Text           string   `mapstructure:"text"`
	ModelID        int      `mapstructure:"model_id"`
	LogLevel       string   `mapstructure:"log_level"`
	LogFile        string   `mapstructure:"log_file"`
	OnnxRuntimeLib string   `mapstructure:"onnxruntime_lib"`
}

// CheckpointPaths maps model ids to checkpoint archives, resolving relative
// names against ModelsDir.
func (c *Config) CheckpointPaths() map[int]string {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.ModelsDir, p)
	}
	return map[int]string{
		1: resolve(c.ModelV1),
		2: resolve(c.ModelV2),
	}
}

// LoadAndParse reads configuration from defaults, an optional TOML config
// file, TRANSLIT_* environment variables and args, in increasing order of
// precedence. Remaining positional args become the text to transliterate.
func LoadAndParse(args []string, stdin io.Reader) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen", ":8000")
	v.SetDefault("models_dir", "models")
	v.SetDefault("model_v1", "transliteration_model_v1.npz")
	v.SetDefault("model_v2", "transliteration_model_v2.npz")
	v.SetDefault("backend", "native")
	v.SetDefault("embedding_size", 64)
	v.SetDefault("hidden_size", 256)
	v.SetDefault("max_length", 20)
	v.SetDefault("normalize", true)
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("body_limit", "1M")
	v.SetDefault("metrics", true)
	v.SetDefault("preload", []int{})
	v.SetDefault("model_id", 1)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	flagSet := pflag.NewFlagSet("translit", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	configFile := flagSet.StringP("config", "c", "", "Path to config file")
	flagSet.StringP("text", "t", "", "Text to transliterate (use '-' to read from stdin)")
	flagSet.StringP("file", "f", "", "Read text from file")
	flagSet.IntP("model", "m", 1, "Model id (1 plain, 2 attention)")
	flagSet.Bool("serve", false, "Run the HTTP server")
	flagSet.String("listen", "", "HTTP listen address")
	flagSet.String("models-dir", "", "Directory holding the checkpoints")
	flagSet.String("model-v1", "", "Checkpoint for model 1")
	flagSet.String("model-v2", "", "Checkpoint for model 2")
	flagSet.StringP("backend", "b", "", "Inference backend (native, onnx)")
	flagSet.Int("embedding-size", 0, "Embedding width the checkpoints were trained with")
	flagSet.Int("hidden-size", 0, "Hidden width the checkpoints were trained with")
	flagSet.Int("max-length", 0, "Maximum output characters per word")
	flagSet.Bool("no-normalize", false, "Do not NFC-normalize and lowercase input")
	flagSet.StringSlice("cors-origin", nil, "Allowed CORS origin (repeatable)")
	flagSet.IntSlice("preload", nil, "Model ids to load at startup")
	flagSet.String("onnxruntime-lib", "", "Path to the onnxruntime shared library")
	flagSet.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	flagSet.String("log-file", "", "Log file path")
	helpFlag := flagSet.BoolP("help", "h", false, "Show help message")

	if err := flagSet.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	if *helpFlag {
		fmt.Fprintf(os.Stderr, "Usage: translit [options] [text]\n\nOptions:\n")
		flagSet.SetOutput(os.Stderr)
		flagSet.PrintDefaults()
		return nil, ErrHelp
	}

	bindings := map[string]string{
		"text":            "text",
		"model_id":        "model",
		"serve":           "serve",
		"listen":          "listen",
		"models_dir":      "models-dir",
		"model_v1":        "model-v1",
		"model_v2":        "model-v2",
		"backend":         "backend",
		"embedding_size":  "embedding-size",
		"hidden_size":     "hidden-size",
		"max_length":      "max-length",
		"cors_origins":    "cors-origin",
		"preload":         "preload",
		"onnxruntime_lib": "onnxruntime-lib",
		"log_level":       "log-level",
		"log_file":        "log-file",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flagSet.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("translit.cfg")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "translit"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("TRANSLIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if noNormalize, _ := flagSet.GetBool("no-normalize"); noNormalize {
		cfg.Normalize = false
	}

	textFile, _ := flagSet.GetString("file")
	if textFile != "" {
		content, err := os.ReadFile(textFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read text file: %w", err)
		}
		cfg.Text = strings.TrimSpace(string(content))
	} else if cfg.Text == "-" {
		content, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		cfg.Text = strings.TrimSpace(string(content))
	} else if cfg.Text == "" {
		if rest := flagSet.Args(); len(rest) > 0 {
			cfg.Text = strings.Join(rest, " ")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if !c.Serve && c.Text == "" {
		return fmt.Errorf("text is required (use -t, -f, or provide as argument) unless --serve is set")
	}
	if c.EmbeddingSize < 0 || c.HiddenSize < 0 {
		return fmt.Errorf("embedding_size and hidden_size must not be negative")
	}
	if c.MaxLength <= 0 {
		return fmt.Errorf("max_length must be positive, got %d", c.MaxLength)
	}
	if c.Backend == "" {
		return fmt.Errorf("backend is required")
	}
	return nil
}
