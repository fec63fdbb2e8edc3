package pricing

import "sort"

// MarkupRule is one tier of a vertical markup stack.
type MarkupRule struct {
	Type       string  `json:"markup_type" yaml:"markup_type"`
	Percentage float64 `json:"percentage" yaml:"percentage"`
	Compound   bool    `json:"compound" yaml:"compound"`
	Order      int     `json:"calculation_order" yaml:"order"`
}

// CalculationStep records the effect of a single rule on the running total.
type CalculationStep struct {
	Type         string  `json:"markup_type"`
	Percentage   float64 `json:"percentage"`
	Compound     bool    `json:"compound"`
	BaseAmount   float64 `json:"baseAmount"`
	MarkupAmount float64 `json:"markupAmount"`
	RunningTotal float64 `json:"runningTotal"`
}

// CalculationResult aggregates the breakdown of a markup calculation.
type CalculationResult struct {
	BaseAmount   float64           `json:"baseAmount"`
	Calculations []CalculationStep `json:"calculations"`
	TotalMarkup  float64           `json:"totalMarkup"`
	FinalAmount  float64           `json:"finalAmount"`
}

// CalculateMarkups applies rules to baseAmount in ascending Order.
//
// A compound rule takes its percentage of the running total, a non-compound
// rule takes it of the original base. Values are never rounded. Rules sharing
// an Order keep their relative input position. The rules slice is not modified.
func CalculateMarkups(baseAmount float64, rules []MarkupRule) CalculationResult {
	sorted := make([]MarkupRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	runningTotal := baseAmount
	totalMarkup := 0.0
	steps := make([]CalculationStep, 0, len(sorted))
	for _, rule := range sorted {
		calcBase := baseAmount
		if rule.Compound {
			calcBase = runningTotal
		}
		markup := calcBase * (rule.Percentage / 100)
		runningTotal += markup
		totalMarkup += markup
		steps = append(steps, CalculationStep{
			Type:         rule.Type,
			Percentage:   rule.Percentage,
			Compound:     rule.Compound,
			BaseAmount:   calcBase,
			MarkupAmount: markup,
			RunningTotal: runningTotal,
		})
	}
	return CalculationResult{
		BaseAmount:   baseAmount,
		Calculations: steps,
		TotalMarkup:  totalMarkup,
		FinalAmount:  runningTotal,
	}
}
