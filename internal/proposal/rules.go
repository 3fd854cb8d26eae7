// Package proposal turns a detected risk event into ranked action
// candidates, driven by a hot-reloadable rule table.
package proposal

import "sort"

// Band maps a severity floor to the action kinds worth proposing at that
// level. The band with the highest floor at or below the event severity wins.
type Band struct {
	MinSeverity float64  `yaml:"min_severity"`
	Kinds       []string `yaml:"kinds"`
}

// Rules is the top-level YAML structure for proposal tuning.
type Rules struct {
	MaxCandidates     int                `yaml:"max_candidates"`
	MinConsiderAmount float64            `yaml:"min_consider_amount"`
	Bands             []Band             `yaml:"bands"`
	RecoveryRates     map[string]float64 `yaml:"recovery_rates"`
	ReorderUplift     float64            `yaml:"reorder_uplift"`
	LowStockKey       string             `yaml:"low_stock_key"`
}

// DefaultRules returns the built-in rule table used when no rules file is
// configured.
func DefaultRules() *Rules {
	return &Rules{
		MaxCandidates:     3,
		MinConsiderAmount: 500,
		Bands: []Band{
			{MinSeverity: 0.2, Kinds: []string{"reminder"}},
			{MinSeverity: 0.4, Kinds: []string{"payment", "reminder"}},
			{MinSeverity: 0.7, Kinds: []string{"payment", "reminder", "reorder"}},
		},
		RecoveryRates: map[string]float64{
			"payment":  0.9,
			"reminder": 0.5,
		},
		ReorderUplift: 0.4,
		LowStockKey:   "low_stock",
	}
}

// normalize fills zero-valued fields from the defaults and keeps the bands
// ordered by severity floor.
func (r *Rules) normalize() {
	def := DefaultRules()

	if r.MaxCandidates <= 0 {
		r.MaxCandidates = def.MaxCandidates
	}

	if r.MinConsiderAmount <= 0 {
		r.MinConsiderAmount = def.MinConsiderAmount
	}

	if len(r.Bands) == 0 {
		r.Bands = def.Bands
	}

	if len(r.RecoveryRates) == 0 {
		r.RecoveryRates = def.RecoveryRates
	}

	if r.ReorderUplift <= 0 {
		r.ReorderUplift = def.ReorderUplift
	}

	if r.LowStockKey == "" {
		r.LowStockKey = def.LowStockKey
	}

	sort.SliceStable(r.Bands, func(i, j int) bool {
		return r.Bands[i].MinSeverity < r.Bands[j].MinSeverity
	})
}

// bandFor returns the kinds allowed at the given severity, or nil when no
// band floor is reached.
func (r *Rules) bandFor(severity float64) []string {
	var kinds []string

	for _, b := range r.Bands {
		if severity >= b.MinSeverity {
			kinds = b.Kinds
		}
	}

	return kinds
}
