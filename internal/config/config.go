package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// AppConfig 应用级设置。
type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// EngineConfig 回测执行参数缺省值（可被命令行覆盖）。
type EngineConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	Commission     float64 `mapstructure:"commission"`
	CommissionType string  `mapstructure:"commission_type"`
	Slippage       float64 `mapstructure:"slippage"`
}

// OptimizeConfig 参数搜索设置。
type OptimizeConfig struct {
	Workers         int   `mapstructure:"workers"`
	MaxCombinations int   `mapstructure:"max_combinations"`
	Seed            int64 `mapstructure:"seed"`
}

// WalkForwardConfig 滚动验证设置。
type WalkForwardConfig struct {
	TrainSize int    `mapstructure:"train_size"`
	TestSize  int    `mapstructure:"test_size"`
	StepSize  int    `mapstructure:"step_size"`
	Anchor    bool   `mapstructure:"anchor"`
	Objective string `mapstructure:"objective"`
}

// Config 是 YAML 配置文件的根结构。
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Optimize    OptimizeConfig    `mapstructure:"optimize"`
	WalkForward WalkForwardConfig `mapstructure:"walkforward"`
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return &Config{
		App: AppConfig{LogLevel: "info", DataDir: "data"},
		Engine: EngineConfig{
			InitialCapital: 100000,
			Commission:     1,
			CommissionType: "fixed",
			Slippage:       0,
		},
		Optimize:    OptimizeConfig{Workers: 4, MaxCombinations: 200, Seed: 42},
		WalkForward: WalkForwardConfig{TrainSize: 252, TestSize: 63, Anchor: false, Objective: "total_return"},
	}
}

// Load reads and validates a YAML config file, filling unset fields
// with defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	cfg := Default()
	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Engine.InitialCapital <= 0 {
		return fmt.Errorf("engine.initial_capital must be positive: %v", cfg.Engine.InitialCapital)
	}
	if cfg.Engine.Commission < 0 {
		return fmt.Errorf("engine.commission must not be negative: %v", cfg.Engine.Commission)
	}
	switch cfg.Engine.CommissionType {
	case "", "fixed", "percentage":
	default:
		return fmt.Errorf("engine.commission_type must be fixed or percentage: %q", cfg.Engine.CommissionType)
	}
	if cfg.Engine.Slippage < 0 {
		return fmt.Errorf("engine.slippage must not be negative: %v", cfg.Engine.Slippage)
	}
	if cfg.Optimize.Workers < 0 {
		return fmt.Errorf("optimize.workers must not be negative: %d", cfg.Optimize.Workers)
	}
	if cfg.WalkForward.TrainSize < 0 || cfg.WalkForward.TestSize < 0 {
		return fmt.Errorf("walkforward sizes must not be negative")
	}
	return nil
}
