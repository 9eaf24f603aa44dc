// Package prompt builds the natural-language instructions sent upstream.
// Every builder is pure: identical inputs produce byte-identical prompts,
// and nothing here talks to the model or reads its responses.
package prompt

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"commodityd/internal/commodity"
	"commodityd/internal/refdata"
)

// Kind identifies one streaming operation.
type Kind string

const (
	KindAllocate    Kind = "allocate"
	KindCompliance  Kind = "compliance"
	KindBudget      Kind = "budget"
	KindEntitlement Kind = "entitlement"
	KindChat        Kind = "chat"
)

// Numeric defaults applied when the request payload omits a field.
const (
	DefaultOzPerServing     = 2.0
	DefaultAnnualMeals      = 3397500
	DefaultCommoditySpend   = 185000
	DefaultOtherFoodPerMeal = 0.65
	DefaultLaborPerMeal     = 1.50
	DefaultTotalEntitlement = 485000
)

// AllocationInput is the resolved payload for an allocation calculation.
type AllocationInput struct {
	Items        []commodity.Record
	OzPerServing float64
	AnnualMeals  int
	Yields       refdata.Document
}

// Allocation renders the commodity allocation prompt.
func Allocation(in AllocationInput) string {
	oz := in.OzPerServing
	if oz <= 0 {
		oz = DefaultOzPerServing
	}
	meals := in.AnnualMeals
	if meals <= 0 {
		meals = DefaultAnnualMeals
	}

	return fmt.Sprintf(`Calculate commodity allocation for this order:

**Items:**
%s

**Yield Factors:**
%s

**Parameters:**
- Serving size: %g oz cooked meat per serving
- Annual meals: %s

Using Python code execution, calculate for each item:
1. Total cost (quantity_lbs × est_cost_per_lb)
2. Number of cases (quantity_lbs ÷ case weight, rounded up)
3. Total cooked ounces (quantity_lbs × 16 × yield_factor)
4. Number of servings (cooked_oz ÷ oz_per_serving)

Then calculate:
- Grand total cost
- Grand total servings
- Percentage of annual meals covered

Print results as JSON:
{
    "items": [{"wbscm_id": "...", "description": "...", "cost": 0.00, "cases": 0, "servings": 0}],
    "total_cost": 0.00,
    "total_servings": 0,
    "meal_coverage_pct": 0.0
}
`, indentJSON(in.Items), indentJSON(in.Yields), oz, commas(meals))
}

// ComplianceInput is the resolved payload for a weekly menu check.
type ComplianceInput struct {
	WeekMenu     map[string]any
	GradeGroup   string
	Requirements refdata.Document
}

// Compliance renders the meal pattern compliance prompt.
func Compliance(in ComplianceInput) string {
	group := in.GradeGroup
	if group == "" {
		group = "elementary"
	}

	return fmt.Sprintf(`Check this weekly menu for USDA meal pattern compliance:

**Menu:**
%s

**Requirements for %s:**
%s

Using Python code execution:
1. Sum the nutritional components for the week
2. Compare against minimum/maximum requirements
3. Identify any deficits or excesses

Return JSON:
{
    "is_compliant": true/false,
    "issues": [{"component": "...", "required": 0, "actual": 0, "deficit": 0}],
    "suggestions": ["..."]
}
`, indentJSON(in.WeekMenu), group, indentJSON(in.Requirements))
}

// BudgetInput is the resolved payload for a budget headroom analysis.
type BudgetInput struct {
	TotalCommoditySpend float64
	AnnualMeals         int
	OtherFoodPerMeal    float64
	LaborPerMeal        float64
	ReimbursementRates  refdata.Document
	Demographics        refdata.Document
}

// Budget renders the budget headroom prompt.
func Budget(in BudgetInput) string {
	spend := in.TotalCommoditySpend
	if spend <= 0 {
		spend = DefaultCommoditySpend
	}
	meals := in.AnnualMeals
	if meals <= 0 {
		meals = DefaultAnnualMeals
	}
	other := in.OtherFoodPerMeal
	if other <= 0 {
		other = DefaultOtherFoodPerMeal
	}
	labor := in.LaborPerMeal
	if labor <= 0 {
		labor = DefaultLaborPerMeal
	}

	return fmt.Sprintf(`Calculate budget headroom for values-aligned upgrades.

**District Profile:**
- Reimbursement Rates: %s
- Demographics: %s

**Costs:**
- Total Commodity Spend: $%s
- Annual Meals: %s
- Non-Commodity Food: $%.2f/meal
- Labor & Overhead: $%.2f/meal

Using Python, calculate:
1. Weighted Average Reimbursement Rate
2. Commodity Cost per Meal
3. Total Food Cost per Meal
4. Food Cost as %% of Reimbursement (target: 40-50%%)
5. Total Plate Cost
6. Budget Headroom (Reimbursement - Plate Cost)
7. Annual Upgrade Budget

Print JSON results.
`, compactJSON(in.ReimbursementRates), compactJSON(in.Demographics),
		commasFloat(spend), commas(meals), other, labor)
}

// EntitlementInput is the resolved payload for an entitlement audit.
type EntitlementInput struct {
	Allocations      map[string]any
	TotalEntitlement float64
	AnnualMeals      int
}

// Entitlement renders the entitlement utilization prompt.
func Entitlement(in EntitlementInput) string {
	entitlement := in.TotalEntitlement
	if entitlement <= 0 {
		entitlement = DefaultTotalEntitlement
	}
	meals := in.AnnualMeals
	if meals <= 0 {
		meals = DefaultAnnualMeals
	}

	return fmt.Sprintf(`Audit USDA Entitlement spending.

**District:**
- Total Entitlement: $%s
- Annual Meals: %s
- DoD Fresh: 20%%

**Allocations:**
%s

Using Python, calculate:
1. Total Allocated
2. Remaining Balance
3. Utilization %% (warn if <98%%)
4. DoD Fresh vs Brown Box split
5. Commodity Cost per Meal
6. Commodity %% of Total Food (target: 15-20%%)

Print JSON results.
`, money(entitlement), commas(meals), indentJSON(in.Allocations))
}

// ChatInput is the payload for an open-ended chat turn.
type ChatInput struct {
	Message string
	Context string
}

// chatSystemPreamble grounds open-ended chat in the planning domain.
const chatSystemPreamble = `You are a helpful assistant for school food directors using Chef Ann Foundation's
Commodity Summer Planning tool. Help with:
- Values-aligned food choices (whole muscle proteins, scratch cooking)
- USDA commodity allocation
- Menu planning and compliance
- Budget optimization`

// Chat renders the open-ended chat prompt.
func Chat(in ChatInput) string {
	var b strings.Builder
	b.WriteString(chatSystemPreamble)
	b.WriteString("\n")
	if in.Context != "" {
		b.WriteString("\n")
		b.WriteString(in.Context)
		b.WriteString("\n")
	}
	b.WriteString("\nUser: ")
	b.WriteString(in.Message)
	return b.String()
}

// indentJSON serializes v as indented JSON for embedding in a prompt. Map
// keys serialize in sorted order, so output is deterministic.
func indentJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// compactJSON serializes v on one line.
func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// commas renders an integer with thousands separators.
func commas(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(s[i : i+3])
	}
	out := b.String()
	if neg {
		return "-" + out
	}
	return out
}

// money renders a dollar amount the way the source data carries it: whole
// dollars without decimals, fractional amounts with two.
func money(f float64) string {
	if f == float64(int(f)) {
		return commas(int(f))
	}
	return commasFloat(f)
}

// commasFloat renders a currency amount with thousands separators and two
// decimal places.
func commasFloat(f float64) string {
	whole := int(f)
	frac := f - float64(whole)
	if frac < 0 {
		frac = -frac
	}
	cents := fmt.Sprintf("%.2f", frac)
	return commas(whole) + cents[1:]
}
