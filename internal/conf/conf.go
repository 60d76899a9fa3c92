// Package conf loads the engine configuration from a YAML file. Scalar YAML
// values are converted to decimals at the boundary; everything past this
// package works in decimal space.
package conf

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/foldfi/position-engine/internal/model"
)

// Config is the full engine configuration file.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Assets AssetConfig  `yaml:"assets"`
	Venue  VenueConfig  `yaml:"venue"`
	Risk   RiskConfig   `yaml:"risk"`
}

// ServerConfig holds HTTP serving and authorization keys. Keys left empty in
// the file can be supplied via environment variables in main.
type ServerConfig struct {
	Port       string `yaml:"port"`
	AdminKey   string `yaml:"admin_key"`
	TriggerKey string `yaml:"trigger_key"`
}

// AssetConfig names the collateral/borrow pair and the engine's pool account.
type AssetConfig struct {
	Base    string `yaml:"base"`
	Borrow  string `yaml:"borrow"`
	Account string `yaml:"account"`
}

// VenueConfig calibrates the simulated venue used when no live adapters are
// configured.
type VenueConfig struct {
	MaxLTV               float64 `yaml:"max_ltv"`
	LiquidationThreshold float64 `yaml:"liquidation_threshold"`
	SwapFeeBps           int64   `yaml:"swap_fee_bps"`
}

// RiskConfig mirrors model.RiskParams with YAML-friendly scalars.
type RiskConfig struct {
	TargetLeverageRatio         float64 `yaml:"target_leverage_ratio"`
	MaxLeverageRatio            float64 `yaml:"max_leverage_ratio"`
	MinHealthFactor             float64 `yaml:"min_health_factor"`
	TargetHealthFactorAfterLoop float64 `yaml:"target_health_factor_after_loop"`
	SafetyMargin                float64 `yaml:"safety_margin"`
	CollateralBuffer            float64 `yaml:"collateral_buffer"`
	MaxLoopIterations           int     `yaml:"max_loop_iterations"`
	SlippageBps                 int64   `yaml:"slippage_bps"`
	DCAMaxLTVCeiling            float64 `yaml:"dca_max_ltv_ceiling"`
	DCAMinHealthFloor           float64 `yaml:"dca_min_health_floor"`
	DCAMinFrequencySecs         int64   `yaml:"dca_min_frequency_secs"`
}

// Params converts the YAML scalars to risk parameters in decimal space.
func (r RiskConfig) Params() model.RiskParams {
	return model.RiskParams{
		TargetLeverageRatio:         decimal.NewFromFloat(r.TargetLeverageRatio),
		MaxLeverageRatio:            decimal.NewFromFloat(r.MaxLeverageRatio),
		MinHealthFactor:             decimal.NewFromFloat(r.MinHealthFactor),
		TargetHealthFactorAfterLoop: decimal.NewFromFloat(r.TargetHealthFactorAfterLoop),
		SafetyMargin:                decimal.NewFromFloat(r.SafetyMargin),
		CollateralBuffer:            decimal.NewFromFloat(r.CollateralBuffer),
		MaxLoopIterations:           r.MaxLoopIterations,
		SlippageBps:                 r.SlippageBps,
		DCAMaxLTVCeiling:            decimal.NewFromFloat(r.DCAMaxLTVCeiling),
		DCAMinHealthFloor:           decimal.NewFromFloat(r.DCAMinHealthFloor),
		DCAMinFrequencySecs:         r.DCAMinFrequencySecs,
	}
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	p := model.DefaultRiskParams()
	return Config{
		Server: ServerConfig{Port: "8080"},
		Assets: AssetConfig{Base: "WETH", Borrow: "USDC", Account: "engine"},
		Venue: VenueConfig{
			MaxLTV:               0.8,
			LiquidationThreshold: 0.85,
			SwapFeeBps:           30,
		},
		Risk: RiskConfig{
			TargetLeverageRatio:         p.TargetLeverageRatio.InexactFloat64(),
			MaxLeverageRatio:            p.MaxLeverageRatio.InexactFloat64(),
			MinHealthFactor:             p.MinHealthFactor.InexactFloat64(),
			TargetHealthFactorAfterLoop: p.TargetHealthFactorAfterLoop.InexactFloat64(),
			SafetyMargin:                p.SafetyMargin.InexactFloat64(),
			CollateralBuffer:            p.CollateralBuffer.InexactFloat64(),
			MaxLoopIterations:           p.MaxLoopIterations,
			SlippageBps:                 p.SlippageBps,
			DCAMaxLTVCeiling:            p.DCAMaxLTVCeiling.InexactFloat64(),
			DCAMinHealthFloor:           p.DCAMinHealthFloor.InexactFloat64(),
			DCAMinFrequencySecs:         p.DCAMinFrequencySecs,
		},
	}
}

// Load reads a YAML config file over the defaults and validates the risk
// section before returning.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("conf: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("conf: parse %s: %w", path, err)
	}
	if err := cfg.Risk.Params().Validate(); err != nil {
		return cfg, fmt.Errorf("conf: %w", err)
	}
	return cfg, nil
}
