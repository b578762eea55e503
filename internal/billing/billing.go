// Package billing turns a billing period's meter readings into a consumption total and a tiered bill.
package billing

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"smartmeter/internal/model"
)

// Mode selects how a reading contributes to the period's consumption.
type Mode string

const (
	// ModeValue sums each reading's value as-is.
	ModeValue Mode = "value"
	// ModeDelta sums value-pre per reading (value alone when pre is absent), clamping negatives to zero.
	ModeDelta Mode = "delta"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.TrimSpace(strings.ToLower(value))) {
	case "", ModeValue:
		return ModeValue, nil
	case ModeDelta:
		return ModeDelta, nil
	default:
		return "", fmt.Errorf("unknown billing mode %q", value)
	}
}

type Bill struct {
	TotalConsumption decimal.Decimal
	TotalBill        decimal.Decimal
	Tiers            []TierCharge
}

type Calculator struct {
	tariff Tariff
	mode   Mode
}

func NewCalculator(tariff Tariff, mode Mode) (*Calculator, error) {
	if err := tariff.Validate(); err != nil {
		return nil, err
	}
	parsed, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	return &Calculator{tariff: tariff, mode: parsed}, nil
}

func (c *Calculator) Tariff() Tariff { return c.tariff }
func (c *Calculator) Mode() Mode     { return c.mode }

// Calculate is a pure fold over readings; calling it twice on the same input yields the same bill.
func (c *Calculator) Calculate(readings []model.Reading) Bill {
	if len(readings) == 0 {
		return Bill{TotalConsumption: decimal.Zero, TotalBill: decimal.Zero, Tiers: []TierCharge{}}
	}
	consumption := Consumption(readings, c.mode)
	total, tiers := c.tariff.Charge(consumption)
	return Bill{
		TotalConsumption: consumption.Round(2),
		TotalBill:        total.Round(2),
		Tiers:            tiers,
	}
}

// Consumption sums the readings under mode. Non-finite values contribute nothing.
func Consumption(readings []model.Reading, mode Mode) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range readings {
		if !finite(r.Value) {
			continue
		}
		units := decimal.NewFromFloat(r.Value)
		if mode == ModeDelta {
			if r.Pre != nil && finite(*r.Pre) {
				units = units.Sub(decimal.NewFromFloat(*r.Pre))
			}
			if units.IsNegative() {
				continue
			}
		}
		sum = sum.Add(units)
	}
	return sum
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MonthWindow returns the half-open calendar month [start, end) containing now, in now's location.
func MonthWindow(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 1, 0)
}
