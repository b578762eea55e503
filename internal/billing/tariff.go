package billing

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Slab bills up to Limit units at Rate per unit. A Limit of +Inf (".inf" in YAML) is unbounded.
type Slab struct {
	Limit float64 `yaml:"limit"`
	Rate  float64 `yaml:"rate"`
}

func (s Slab) Unbounded() bool {
	return math.IsInf(s.Limit, 1)
}

type Tariff struct {
	Slabs []Slab `yaml:"slabs"`
}

// DefaultTariff is the residential schedule the dashboards were built around.
func DefaultTariff() Tariff {
	return Tariff{Slabs: []Slab{
		{Limit: 50, Rate: 0.27},
		{Limit: 50, Rate: 0.77},
		{Limit: 100, Rate: 1.63},
		{Limit: 100, Rate: 2.00},
		{Limit: 100, Rate: 2.20},
		{Limit: 100, Rate: 2.41},
		{Limit: math.Inf(1), Rate: 2.48},
	}}
}

var ErrEmptyTariff = errors.New("tariff has no slabs")

func (t Tariff) Validate() error {
	if len(t.Slabs) == 0 {
		return ErrEmptyTariff
	}
	last := len(t.Slabs) - 1
	for i, slab := range t.Slabs {
		if math.IsNaN(slab.Rate) || math.IsInf(slab.Rate, 0) || slab.Rate < 0 {
			return fmt.Errorf("slab %d: rate must be a non-negative number", i+1)
		}
		if slab.Unbounded() {
			if i != last {
				return fmt.Errorf("slab %d: only the last slab may be unbounded", i+1)
			}
			continue
		}
		if math.IsNaN(slab.Limit) || slab.Limit <= 0 {
			return fmt.Errorf("slab %d: limit must be positive", i+1)
		}
	}
	if !t.Slabs[last].Unbounded() {
		return errors.New("last slab must be unbounded")
	}
	return nil
}

// Breakpoints returns the cumulative consumption at which each bounded slab ends.
func (t Tariff) Breakpoints() []float64 {
	points := make([]float64, 0, len(t.Slabs))
	total := 0.0
	for _, slab := range t.Slabs {
		if slab.Unbounded() {
			break
		}
		total += slab.Limit
		points = append(points, total)
	}
	return points
}

// TierCharge is the share of a bill that fell into one slab.
type TierCharge struct {
	Tier  int
	Slab  Slab
	Units decimal.Decimal
	Cost  decimal.Decimal
}

// Charge walks the slabs in order and bills min(remaining, limit) units at each slab's rate.
// Non-positive consumption costs nothing.
func (t Tariff) Charge(consumption decimal.Decimal) (decimal.Decimal, []TierCharge) {
	total := decimal.Zero
	tiers := make([]TierCharge, 0, len(t.Slabs))
	remaining := consumption
	for i, slab := range t.Slabs {
		if !remaining.IsPositive() {
			break
		}
		units := remaining
		if !slab.Unbounded() {
			units = decimal.Min(remaining, decimal.NewFromFloat(slab.Limit))
		}
		cost := units.Mul(decimal.NewFromFloat(slab.Rate))
		total = total.Add(cost)
		remaining = remaining.Sub(units)
		tiers = append(tiers, TierCharge{Tier: i + 1, Slab: slab, Units: units, Cost: cost})
	}
	return total, tiers
}

// LoadTariff reads a YAML tariff file. An empty path yields the default tariff.
func LoadTariff(path string) (Tariff, error) {
	if path == "" {
		return DefaultTariff(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Tariff{}, fmt.Errorf("read tariff: %w", err)
	}
	var tariff Tariff
	if err := yaml.Unmarshal(data, &tariff); err != nil {
		return Tariff{}, fmt.Errorf("parse tariff %s: %w", path, err)
	}
	if err := tariff.Validate(); err != nil {
		return Tariff{}, fmt.Errorf("tariff %s: %w", path, err)
	}
	return tariff, nil
}
