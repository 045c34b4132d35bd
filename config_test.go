package main

import (
	"flag"
	"os"
	"strings"
	"testing"
)

// validBase returns a config that passes validation.
func validBase() Config {
	return Config{
		Symbol:     "BTC_USDT",
		Timeframes: []string{"60M", "4H", "1D"},
		GapsCSV:    "gaps/gaps.csv",
		Mode:       "strict",
		EntryStyle: "stop",
		Size:       1,
		Lookback:   15,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr []string
	}{
		{
			name:    "valid config, not backtest",
			mutate:  func(cfg *Config) {},
			wantErr: nil,
		},
		{
			name: "missing symbol",
			mutate: func(cfg *Config) {
				cfg.Symbol = ""
			},
			wantErr: []string{"symbol cannot be an empty string"},
		},
		{
			name: "unknown timeframe",
			mutate: func(cfg *Config) {
				cfg.Timeframes = []string{"60M", "2W"}
			},
			wantErr: []string{"unknown timeframe"},
		},
		{
			name: "unknown detection mode",
			mutate: func(cfg *Config) {
				cfg.Mode = "loose"
			},
			wantErr: []string{"unknown detection mode"},
		},
		{
			name: "unknown entry style",
			mutate: func(cfg *Config) {
				cfg.EntryStyle = "limit"
			},
			wantErr: []string{"unknown entry style"},
		},
		{
			name: "non-positive size and short lookback",
			mutate: func(cfg *Config) {
				cfg.Size = 0
				cfg.Lookback = 2
			},
			wantErr: []string{
				"position size must be positive",
				"lookback must be at least 3 bars",
			},
		},
		{
			name: "backtest true, valid filepath",
			mutate: func(cfg *Config) {
				cfg.Backtest = true
				cfg.BacktestTimeframe = "60M"
				cfg.BacktestDataFilepath = "/tmp/data.csv"
			},
			wantErr: nil,
		},
		{
			name: "backtest true, missing filepath",
			mutate: func(cfg *Config) {
				cfg.Backtest = true
				cfg.BacktestTimeframe = "60M"
			},
			wantErr: []string{"backtest data filepath cannot be an empty string"},
		},
		{
			name: "missing gaps csv, not backtest",
			mutate: func(cfg *Config) {
				cfg.GapsCSV = ""
			},
			wantErr: []string{"gaps csv path cannot be an empty string"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Errorf("expected no error, got: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("expected error(s) %v, got none", tt.wantErr)
					return
				}
				for _, want := range tt.wantErr {
					if !strings.Contains(err.Error(), want) {
						t.Errorf("expected error to contain %q, got %v", want, err)
					}
				}
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	// Save and restore original os.Args and environment
	origArgs := os.Args
	origEnv := os.Environ()
	defer func() {
		os.Args = origArgs
		for _, kv := range origEnv {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) == 2 {
				os.Setenv(parts[0], parts[1])
			}
		}
	}()

	tests := []struct {
		name        string
		env         map[string]string
		args        []string
		expectErr   bool
		expectInErr []string
		expectCfg   Config
	}{
		{
			name:      "defaults only",
			env:       map[string]string{},
			args:      []string{"cmd"},
			expectErr: false,
			expectCfg: Config{
				Symbol:     "BTC_USDT",
				Timeframes: []string{"60M", "4H", "1D"},
				Mode:       "strict",
				EntryStyle: "stop",
				Lookback:   15,
			},
		},
		{
			name: "all from env",
			env: map[string]string{
				"symbol":     "ETH_USDT",
				"timeframes": "60M,4H",
				"mode":       "b2dir",
				"lookback":   "20",
			},
			args:      []string{"cmd"},
			expectErr: false,
			expectCfg: Config{
				Symbol:     "ETH_USDT",
				Timeframes: []string{"60M", "4H"},
				Mode:       "b2dir",
				EntryStyle: "stop",
				Lookback:   20,
			},
		},
		{
			name:      "all from flags",
			env:       map[string]string{},
			args:      []string{"cmd", "-symbol=ETH_USDT", "-timeframes=1D", "-mode=open", "-entrystyle=market"},
			expectErr: false,
			expectCfg: Config{
				Symbol:     "ETH_USDT",
				Timeframes: []string{"1D"},
				Mode:       "open",
				EntryStyle: "market",
				Lookback:   15,
			},
		},
		{
			name: "backtest true, missing filepath",
			env: map[string]string{
				"backtest": "true",
			},
			args:        []string{"cmd"},
			expectErr:   true,
			expectInErr: []string{"backtest data filepath cannot be an empty string"},
		},
		{
			name: "backtest true, filepath from flag",
			env: map[string]string{
				"backtest": "true",
			},
			args:      []string{"cmd", "-backtestdatafilepath=/tmp/data.csv"},
			expectErr: false,
			expectCfg: Config{
				Symbol:     "BTC_USDT",
				Timeframes: []string{"60M", "4H", "1D"},
				Mode:       "strict",
				EntryStyle: "stop",
				Lookback:   15,
			},
		},
		{
			name: "invalid mode from env",
			env: map[string]string{
				"mode": "loose",
			},
			args:        []string{"cmd"},
			expectErr:   true,
			expectInErr: []string{"unknown detection mode"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset flags for each test
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

			// Set environment variables
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			// Set command-line arguments
			os.Args = tt.args

			var cfg Config
			err := loadConfig(&cfg, "") // don't load .env file

			if tt.expectErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				for _, want := range tt.expectInErr {
					if !strings.Contains(err.Error(), want) {
						t.Errorf("expected error to contain %q, got %v", want, err)
					}
				}
			} else {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				// Only check fields that are set in expectCfg
				if tt.expectCfg.Symbol != "" && cfg.Symbol != tt.expectCfg.Symbol {
					t.Errorf("Symbol: got %v, want %v", cfg.Symbol, tt.expectCfg.Symbol)
				}
				if len(tt.expectCfg.Timeframes) != len(cfg.Timeframes) {
					t.Errorf("Timeframes: got %v, want %v", cfg.Timeframes, tt.expectCfg.Timeframes)
				}
				if tt.expectCfg.Mode != "" && cfg.Mode != tt.expectCfg.Mode {
					t.Errorf("Mode: got %v, want %v", cfg.Mode, tt.expectCfg.Mode)
				}
				if tt.expectCfg.EntryStyle != "" && cfg.EntryStyle != tt.expectCfg.EntryStyle {
					t.Errorf("EntryStyle: got %v, want %v", cfg.EntryStyle, tt.expectCfg.EntryStyle)
				}
				if tt.expectCfg.Lookback != 0 && cfg.Lookback != tt.expectCfg.Lookback {
					t.Errorf("Lookback: got %v, want %v", cfg.Lookback, tt.expectCfg.Lookback)
				}
			}

			// Clean up env
			for k := range tt.env {
				os.Unsetenv(k)
			}
		})
	}
}
