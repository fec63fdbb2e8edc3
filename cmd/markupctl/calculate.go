package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alleato/procore-api/internal/pricing"
)

type ruleFile struct {
	Rules []pricing.MarkupRule `yaml:"rules"`
}

func newCalculateCmd() *cobra.Command {
	var (
		base      float64
		rulesPath string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Apply a YAML rule stack to a base amount",
		Example: `  markupctl calculate --base 100000 --rules rules.yaml
  markupctl calculate --base 2500 --rules rules.yaml --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(rulesPath)
			if err != nil {
				return fmt.Errorf("read rules: %w", err)
			}
			rules, err := parseRules(data)
			if err != nil {
				return err
			}
			result := pricing.CalculateMarkups(base, rules)
			if !finite(result.FinalAmount) || !finite(result.TotalMarkup) {
				return fmt.Errorf("calculation result is out of range (final amount %s)", money(result.FinalAmount))
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			return writeTable(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().Float64Var(&base, "base", 0, "base amount")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "path to the YAML rule file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON result")
	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("rules")
	return cmd
}

// parseRules accepts either a top-level list or a document with a rules key.
func parseRules(data []byte) ([]pricing.MarkupRule, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Rules) > 0 {
		return doc.Rules, nil
	}
	var list []pricing.MarkupRule
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(list) == 0 {
		return nil, errors.New("parse rules: no rules found")
	}
	return list, nil
}

func writeTable(out io.Writer, res pricing.CalculationResult) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "MARKUP\tPERCENT\tCOMPOUND\tBASE\tMARKUP AMOUNT\tRUNNING TOTAL\t")
	for _, step := range res.Calculations {
		fmt.Fprintf(tw, "%s\t%s%%\t%t\t%s\t%s\t%s\t\n",
			step.Type,
			number(step.Percentage),
			step.Compound,
			money(step.BaseAmount),
			money(step.MarkupAmount),
			money(step.RunningTotal))
	}
	fmt.Fprintf(tw, "\t\t\t\tTOTAL MARKUP\t%s\t\n", money(res.TotalMarkup))
	fmt.Fprintf(tw, "\t\t\t\tFINAL AMOUNT\t%s\t\n", money(res.FinalAmount))
	return tw.Flush()
}

// money formats for display only; calculations stay unrounded.
func money(v float64) string {
	if !finite(v) {
		return strconv.FormatFloat(v, 'f', 2, 64)
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

func number(v float64) string {
	if !finite(v) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return decimal.NewFromFloat(v).String()
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}
