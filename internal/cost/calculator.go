// Package cost computes provider spend estimates for runs.
package cost

// Rates holds per-call provider pricing in USD.
type Rates struct {
	SearchPerCall float64 `yaml:"search_per_call" mapstructure:"search_per_call"`
	DetailPerCall float64 `yaml:"detail_per_call" mapstructure:"detail_per_call"`
}

// Calculator computes costs for provider usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Search computes the cost of n search calls.
func (c *Calculator) Search(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) * c.rates.SearchPerCall
}

// Detail computes the cost of n detail calls.
func (c *Calculator) Detail(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) * c.rates.DetailPerCall
}

// Run computes the total estimate for a run's call counts.
func (c *Calculator) Run(searchCalls, detailCalls int) float64 {
	return c.Search(searchCalls) + c.Detail(detailCalls)
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		SearchPerCall: 0.015,
		DetailPerCall: 0.015,
	}
}
