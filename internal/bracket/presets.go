package bracket

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"trading-console/pkg/exchanges/common"
)

// Preset is a named bracket template from the presets file.
type Preset struct {
	Name     string  `yaml:"name" json:"name"`
	Mode     string  `yaml:"mode" json:"mode"`
	Offset   float64 `yaml:"offset" json:"offset"`
	StopLoss float64 `yaml:"stop_loss" json:"stop_loss"`
	// nil means the default slippage; an explicit 0 is honoured.
	StopLimitSlippage *float64 `yaml:"stop_limit_slippage" json:"stop_limit_slippage,omitempty"`
	Qty               float64  `yaml:"qty" json:"qty"`
	TIF               string   `yaml:"tif" json:"tif"`
	OutsideRTH        bool     `yaml:"outside_rth" json:"outside_rth"`
	Account           string   `yaml:"account" json:"account,omitempty"`
}

// PresetFile is the top-level YAML structure.
type PresetFile struct {
	Presets []Preset `yaml:"presets"`
}

// Presets is a loaded preset list.
type Presets []Preset

// Get finds a preset by case-insensitive name.
func (p Presets) Get(name string) (Preset, bool) {
	for _, preset := range p {
		if strings.EqualFold(preset.Name, name) {
			return preset, true
		}
	}
	return Preset{}, false
}

// LoadPresets reads presets from a YAML file.
func LoadPresets(path string) (Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePresets(data)
}

// ParsePresets decodes and checks a presets document.
func ParsePresets(data []byte) (Presets, error) {
	var file PresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}

	seen := make(map[string]bool, len(file.Presets))
	for i, p := range file.Presets {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if key == "" {
			return nil, fmt.Errorf("preset %d: name is required", i)
		}
		if seen[key] {
			return nil, fmt.Errorf("preset %q defined twice", p.Name)
		}
		seen[key] = true
		if _, err := common.ParseTIF(p.TIF); err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.Name, err)
		}
		switch strings.ToUpper(p.Mode) {
		case "", ModeMarket, ModeLimit:
		default:
			return nil, fmt.Errorf("preset %q: unknown mode %q", p.Name, p.Mode)
		}
	}
	return Presets(file.Presets), nil
}

// Apply builds a request for contract using trigger as the reference price.
// An empty mode defaults to LMT.
func (p Preset) Apply(contract common.Contract, trigger float64) (Request, error) {
	tif, err := common.ParseTIF(p.TIF)
	if err != nil {
		return Request{}, err
	}
	mode := strings.ToUpper(p.Mode)
	if mode == "" {
		mode = ModeLimit
	}
	req := Request{
		Contract:     contract,
		Mode:         mode,
		TriggerPrice: trigger,
		Offset:       p.Offset,
		StopLoss:     p.StopLoss,
		Qty:          p.Qty,
		TIF:          tif,
		OutsideRTH:   p.OutsideRTH,
		Account:      p.Account,
	}
	if mode == ModeLimit {
		req.LimitPrice = &trigger
	}
	if p.StopLimitSlippage != nil {
		req.StopLimitSlippage = *p.StopLimitSlippage
		req.ExplicitZeroSlippage = *p.StopLimitSlippage == 0
	}
	return req, nil
}
