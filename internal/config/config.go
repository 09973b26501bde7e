// Package config persists the GUI shell's device list and serial
// parameters between runs. It is thin UI-facing plumbing — the core
// (rtuio/mbmaster/device/relaydrv/adcdrv) never reads it directly.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// DeviceKind selects which concrete driver a DeviceConfig entry wires up.
type DeviceKind string

const (
	RelayBoard DeviceKind = "relay"
	ADCBoard   DeviceKind = "adc"
)

// DeviceConfig is one row of the device list the GUI shell restores on
// startup: enough to open a driver without the user re-entering anything.
type DeviceConfig struct {
	Name           string     `json:"name"`
	Kind           DeviceKind `json:"kind"`
	Address        byte       `json:"address"`
	PollIntervalMs uint32     `json:"poll_interval_ms"`
}

// Config is the persisted application config.
type Config struct {
	Port            string         `json:"port"`
	BaudRate        int            `json:"baud_rate"`
	DataBits        int            `json:"data_bits"`
	StopBits        int            `json:"stop_bits"`
	Parity          string         `json:"parity"`
	Devices         []DeviceConfig `json:"devices"`
	LogLevel        string         `json:"log_level"`
	Theme           string         `json:"theme"`
}

// Default returns the out-of-the-box config: one relay board at address 3
// and one ADC board at address 1, matching the vendor firmware's factory
// defaults (wsrelaydiginmbrtu.cpp / wsanaloginmbrtu.cpp constructors).
func Default() *Config {
	return &Config{
		Port:     "COM1",
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "None",
		Devices: []DeviceConfig{
			{Name: "Relay board", Kind: RelayBoard, Address: 3, PollIntervalMs: 2000},
			{Name: "ADC board", Kind: ADCBoard, Address: 1, PollIntervalMs: 1000},
		},
		LogLevel: "INFO",
		Theme:    "auto",
	}
}

// Load reads the config file next to the running executable.
func Load() (*Config, error) {
	configPath := getConfigPath()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the config file next to the running executable, creating
// its directory if needed.
func (c *Config) Save() error {
	configPath := getConfigPath()

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

func getConfigPath() string {
	exePath, err := os.Executable()
	if err != nil {
		return ""
	}
	exeDir := filepath.Dir(exePath)
	return filepath.Join(exeDir, "config.json")
}
