// Package config loads and validates the immutable RunbookConfig read once
// at daemon startup (spec.md §6 "Configuration (read-only at startup)").
//
// Loading follows the teacher's own internal/config conventions: a missing
// file is not an error (Load returns a usable zero-value config), and
// validation happens once, at load time, never again — after startup the
// config is immutable (spec.md §7).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"runbookd/internal/runbook/state"
)

// DialMode selects how Adjustment{Dial} events are handled (spec.md §4.5).
type DialMode int

const (
	DialOSScroll DialMode = iota
	DialVSCodeTerminalScroll
)

// rawConfig mirrors the on-disk YAML shape exactly.
type rawConfig struct {
	Keypad struct {
		Pages []struct {
			Slots []string `yaml:"slots"`
		} `yaml:"pages"`
	} `yaml:"keypad"`
	Prompts []struct {
		ID           string `yaml:"id"`
		Label        string `yaml:"label"`
		Command      string `yaml:"command"`
		FallbackText string `yaml:"fallback_text"`
		Prefill      bool   `yaml:"prefill"`
	} `yaml:"prompts"`
	Dial struct {
		Mode string `yaml:"mode"`
	} `yaml:"dial"`
	Listen struct {
		Addr string `yaml:"addr"`
	} `yaml:"listen"`
}

// RunbookConfig is the validated, immutable configuration used by the
// reducer and render projection. Build it only via Load/LoadFrom.
type RunbookConfig struct {
	pages   []state.Page
	prompts map[string]*state.Prompt

	DialMode   DialMode
	ListenAddr string
}

// DefaultListenAddr matches spec.md §6's bind default.
const DefaultListenAddr = "127.0.0.1:29381"

// Dir returns the runbookd configuration directory (~/.runbookd/).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".runbookd")
	}
	return filepath.Join(home, ".runbookd")
}

// Load reads the runbookd config from ~/.runbookd/config.yaml.
func Load() (*RunbookConfig, error) {
	return LoadFrom(filepath.Join(Dir(), "config.yaml"))
}

// LoadFrom reads and validates the runbookd config at path. A missing file
// returns a usable empty config (one page, no prompts, OS scroll dial
// mode, default listen address), not an error.
func LoadFrom(path string) (*RunbookConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return empty(), nil
		}
		return nil, err
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return build(&raw)
}

func empty() *RunbookConfig {
	return &RunbookConfig{
		pages:      []state.Page{{}},
		prompts:    make(map[string]*state.Prompt),
		DialMode:   DialOSScroll,
		ListenAddr: DefaultListenAddr,
	}
}

func build(raw *rawConfig) (*RunbookConfig, error) {
	cfg := &RunbookConfig{
		prompts:    make(map[string]*state.Prompt),
		ListenAddr: raw.Listen.Addr,
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	for _, rp := range raw.Prompts {
		if rp.ID == "" {
			return nil, fmt.Errorf("prompts: entry with empty id")
		}
		if _, dup := cfg.prompts[rp.ID]; dup {
			return nil, fmt.Errorf("prompts: duplicate id %q", rp.ID)
		}
		cfg.prompts[rp.ID] = &state.Prompt{
			ID:           rp.ID,
			Label:        rp.Label,
			Command:      rp.Command,
			FallbackText: rp.FallbackText,
			Prefill:      rp.Prefill,
		}
	}

	if len(raw.Keypad.Pages) == 0 {
		cfg.pages = []state.Page{{}}
	} else {
		cfg.pages = make([]state.Page, len(raw.Keypad.Pages))
		for i, rpg := range raw.Keypad.Pages {
			if len(rpg.Slots) != state.PageSlotCount {
				return nil, fmt.Errorf("keypad.pages[%d]: must have exactly %d slots, got %d",
					i, state.PageSlotCount, len(rpg.Slots))
			}
			var page state.Page
			for j, slotID := range rpg.Slots {
				if slotID == "" {
					continue
				}
				if _, ok := cfg.prompts[slotID]; !ok {
					return nil, fmt.Errorf("keypad.pages[%d].slots[%d]: unknown prompt id %q", i, j, slotID)
				}
				page.Slots[j] = state.Slot{PromptID: slotID}
			}
			cfg.pages[i] = page
		}
	}

	switch raw.Dial.Mode {
	case "", "os_scroll":
		cfg.DialMode = DialOSScroll
	case "vscode_terminal_scroll":
		cfg.DialMode = DialVSCodeTerminalScroll
	default:
		return nil, fmt.Errorf("dial.mode: unknown mode %q", raw.Dial.Mode)
	}

	return cfg, nil
}

// PageCount returns the number of configured keypad pages.
func (c *RunbookConfig) PageCount() int {
	return len(c.pages)
}

// Page returns the page at index, or nil if out of range.
func (c *RunbookConfig) Page(index int) *state.Page {
	if index < 0 || index >= len(c.pages) {
		return nil
	}
	return &c.pages[index]
}

// Prompt looks up a prompt by id, or nil if unknown.
func (c *RunbookConfig) Prompt(id string) *state.Prompt {
	if id == "" {
		return nil
	}
	return c.prompts[id]
}
