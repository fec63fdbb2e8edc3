package markup

import (
	"time"

	"github.com/google/uuid"

	"github.com/alleato/procore-api/internal/pricing"
)

// Markup is one configured vertical markup row of a project.
type Markup struct {
	ID               uuid.UUID `json:"id"`
	ProjectID        int64     `json:"project_id"`
	MarkupType       string    `json:"markup_type"`
	Percentage       float64   `json:"percentage"`
	Compound         bool      `json:"compound"`
	CalculationOrder int       `json:"calculation_order"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Rule converts the stored row into a calculator rule.
func (m Markup) Rule() pricing.MarkupRule {
	return pricing.MarkupRule{
		Type:       m.MarkupType,
		Percentage: m.Percentage,
		Compound:   m.Compound,
		Order:      m.CalculationOrder,
	}
}

// Rules converts rows in their stored order.
func Rules(rows []Markup) []pricing.MarkupRule {
	out := make([]pricing.MarkupRule, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Rule())
	}
	return out
}

// CreateInput is the payload accepted when adding a markup.
type CreateInput struct {
	MarkupType string   `json:"markup_type" validate:"required,max=100"`
	Percentage *float64 `json:"percentage" validate:"required,gte=0,lte=100"`
	// Compound defaults to true when omitted.
	Compound *bool `json:"compound"`
}

// UpdateItem is one entry of a bulk update. Its position in the request
// becomes the new calculation order.
type UpdateItem struct {
	ID         string   `json:"id" validate:"required,uuid"`
	MarkupType string   `json:"markup_type" validate:"required,max=100"`
	Percentage *float64 `json:"percentage" validate:"required,gte=0,lte=100"`
	// Compound keeps the stored value when omitted.
	Compound *bool `json:"compound"`
}

// BulkUpdateInput is the PUT payload.
type BulkUpdateInput struct {
	Markups []UpdateItem `json:"markups" validate:"required,min=1,dive"`
}

// CalculationResponse is the calculate endpoint body.
type CalculationResponse struct {
	pricing.CalculationResult
	Message string `json:"message,omitempty"`
}

// NoRulesMessage is returned when a project has no markups configured.
const NoRulesMessage = "No vertical markup settings configured for this project"
