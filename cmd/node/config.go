package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/rishav/hft-node/internal/exec"
	"github.com/rishav/hft-node/internal/model"
	"github.com/rishav/hft-node/internal/rngsrc"
	"github.com/rishav/hft-node/internal/runtime"
	"github.com/rishav/hft-node/internal/strategy"
)

// fileConfig mirrors runtime.Config in a YAML-friendly shape (string
// paths, plain numbers) for collaborator config files. The core itself
// never parses YAML (spec.md §1: "configuration file loading" is named
// as out-of-scope plumbing); this type exists only in cmd/node.
type fileConfig struct {
	Rings struct {
		TickCapacity     uint64 `yaml:"tick_capacity"`
		PreRiskCapacity  uint64 `yaml:"pre_risk_capacity"`
		ApprovedCapacity uint64 `yaml:"approved_capacity"`
	} `yaml:"rings"`

	RiskLimits struct {
		MaxOrderQty      float64                   `yaml:"max_order_qty"`
		MaxPosition      float64                   `yaml:"max_position"`
		MaxOrdersPerSec  int32                     `yaml:"max_orders_per_sec"`
		MaxNotionalOrder float64                   `yaml:"max_notional_order"`
		DailyLossLimit   float64                   `yaml:"daily_loss_limit"`
		KillSwitch       bool                      `yaml:"kill_switch"`
		PerSymbol        map[int64]fileSymbolLimit `yaml:"per_symbol"`
	} `yaml:"risk_limits"`

	Strategy struct {
		Spread        float64 `yaml:"spread"`
		SkewThreshold float64 `yaml:"skew_threshold"`
		SkewAmount    float64 `yaml:"skew_amount"`
		Quantity      float64 `yaml:"quantity"`
		YieldEvery    int     `yaml:"yield_every"`
	} `yaml:"strategy"`

	Execution struct {
		LatencyMeanMs   float64 `yaml:"latency_mean_ms"`
		LatencyStddevMs float64 `yaml:"latency_stddev_ms"`
		FillProbability float64 `yaml:"fill_probability"`
		YieldEvery      int     `yaml:"yield_every"`
	} `yaml:"execution"`

	RNG struct {
		Mode string `yaml:"mode"` // "deterministic" | "crypto"
		Seed uint64 `yaml:"seed"`
	} `yaml:"rng"`

	Audit struct {
		Path       string `yaml:"path"`
		HMACKeyHex string `yaml:"hmac_key_hex"`
	} `yaml:"audit"`

	TickSourcePath string `yaml:"tick_source_path"`

	MarketDataTapBufferSize int `yaml:"market_data_tap_buffer_size"`
}

type fileSymbolLimit struct {
	MaxOrderQty      float64 `yaml:"max_order_qty"`
	MaxPosition      float64 `yaml:"max_position"`
	MaxNotionalOrder float64 `yaml:"max_notional_order"`
}

// loadFileConfig reads and parses a YAML config file.
func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse config: %w", err)
	}
	return fc, nil
}

// applyEnvOverrides overlays HFT_*-prefixed environment variables onto
// fc, per SPEC_FULL's ambient configuration section. Only the handful
// of values an operator is likely to tweak without editing the file
// are exposed this way; everything else is file-only.
func applyEnvOverrides(fc *fileConfig) error {
	if v := os.Getenv("HFT_AUDIT_PATH"); v != "" {
		fc.Audit.Path = v
	}
	if v := os.Getenv("HFT_TICK_SOURCE_PATH"); v != "" {
		fc.TickSourcePath = v
	}
	if v := os.Getenv("HFT_RNG_MODE"); v != "" {
		fc.RNG.Mode = v
	}
	if v := os.Getenv("HFT_RNG_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("HFT_RNG_SEED: %w", err)
		}
		fc.RNG.Seed = seed
	}
	if v := os.Getenv("HFT_STRATEGY_QUANTITY"); v != "" {
		q, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("HFT_STRATEGY_QUANTITY: %w", err)
		}
		fc.Strategy.Quantity = q
	}
	return nil
}

// toRuntimeConfig builds the runtime.Config the core consumes from the
// YAML shape plus the already-opened tick source reader. hmacKey is
// decoded separately by the caller since hex-decoding needs an error
// path distinct from the rest of the struct conversion.
func (fc fileConfig) toRuntimeConfig(hmacKey []byte, tickSource *os.File) runtime.Config {
	limits := model.RiskLimits{
		MaxOrderQty:      fc.RiskLimits.MaxOrderQty,
		MaxPosition:      fc.RiskLimits.MaxPosition,
		MaxOrdersPerSec:  fc.RiskLimits.MaxOrdersPerSec,
		MaxNotionalOrder: fc.RiskLimits.MaxNotionalOrder,
		DailyLossLimit:   fc.RiskLimits.DailyLossLimit,
		KillSwitch:       fc.RiskLimits.KillSwitch,
	}
	if len(fc.RiskLimits.PerSymbol) > 0 {
		limits.SymbolOverrides = make(map[int64]model.SymbolLimits, len(fc.RiskLimits.PerSymbol))
		for id, sl := range fc.RiskLimits.PerSymbol {
			limits.SymbolOverrides[id] = model.SymbolLimits{
				MaxOrderQty:      sl.MaxOrderQty,
				MaxPosition:      sl.MaxPosition,
				MaxNotionalOrder: sl.MaxNotionalOrder,
			}
		}
	}

	rngMode := rngsrc.ModeDeterministic
	if fc.RNG.Mode == "crypto" {
		rngMode = rngsrc.ModeCrypto
	}

	return runtime.Config{
		TickRingCapacity:     fc.Rings.TickCapacity,
		PreRiskRingCapacity:  fc.Rings.PreRiskCapacity,
		ApprovedRingCapacity: fc.Rings.ApprovedCapacity,
		RiskLimits:           limits,
		Strategy: strategy.Config{
			Spread:        fc.Strategy.Spread,
			SkewThreshold: fc.Strategy.SkewThreshold,
			SkewAmount:    fc.Strategy.SkewAmount,
			Quantity:      fc.Strategy.Quantity,
			YieldEvery:    fc.Strategy.YieldEvery,
		},
		Execution: exec.Config{
			LatencyMeanMs:   fc.Execution.LatencyMeanMs,
			LatencyStddevMs: fc.Execution.LatencyStddevMs,
			FillProbability: fc.Execution.FillProbability,
			YieldEvery:      fc.Execution.YieldEvery,
		},
		RNGMode:                 rngMode,
		RNGSeed:                 fc.RNG.Seed,
		AuditPath:               fc.Audit.Path,
		HMACKey:                 hmacKey,
		TickSource:              tickSource,
		MarketDataTapBufferSize: fc.MarketDataTapBufferSize,
	}
}
