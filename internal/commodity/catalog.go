// Package commodity resolves purchasable USDA items out of the reference
// datasets: flattening the nested documents into record lists, merging the
// comprehensive and legacy sources, and grouping records by category slug.
package commodity

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"commodityd/internal/refdata"
)

// IDField is the unique identifier every commodity record carries. A nested
// mapping that has this field is a record; one that does not is a grouping
// node to recurse into.
const IDField = "wbscm_id"

// CostField is the estimated cost per pound. It is the one field with a
// fallback chain: comprehensive source, then legacy source, then the
// per-category default table.
const CostField = "est_cost_per_lb"

// Record is one purchasable item's attributes. Field sets vary between the
// comprehensive and legacy sources, so records stay schemaless.
type Record map[string]any

// ID returns the record's identifier as a string. Source files carry it as
// either a JSON string or a number.
func (r Record) ID() string {
	switch v := r[IDField].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// Category returns the record's category, or "" when absent.
func (r Record) Category() string {
	if s, ok := r["category"].(string); ok {
		return s
	}
	return ""
}

// Clone returns a shallow copy so enrichment never mutates source data.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Flatten extracts every leaf record from a nested reference value.
// Sequences are flattened element-wise in order; a mapping that carries the
// identifier field is itself a record; any other mapping is recursed into.
// Scalars and empty containers contribute nothing. Duplicates are kept:
// callers resolve them by taking the first match in flattening order.
func Flatten(v any) []Record {
	var out []Record
	flattenInto(v, &out)
	return out
}

func flattenInto(v any, out *[]Record) {
	switch node := v.(type) {
	case []any:
		for _, elem := range node {
			flattenInto(elem, out)
		}
	case map[string]any:
		if _, ok := node[IDField]; ok {
			*out = append(*out, Record(node))
			return
		}
		// Sorted keys keep the flattening order, and with it first-match
		// resolution, stable across runs.
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenInto(node[k], out)
		}
	case refdata.Document:
		flattenInto(map[string]any(node), out)
	}
}

// defaultCostByCategory is the fallback cost-per-lb table applied when
// neither source supplies a cost figure.
var defaultCostByCategory = map[string]float64{
	"beef":       3.25,
	"poultry":    2.10,
	"pork":       2.45,
	"fish":       3.80,
	"cheese":     2.90,
	"dairy":      1.20,
	"eggs":       1.75,
	"vegetables": 0.95,
	"fruits":     1.10,
	"grains":     0.80,
	"beans":      0.85,
	"legumes":    0.85,
}

// defaultCostGlobal covers records whose category has no table entry.
const defaultCostGlobal = 1.50

// Enrich merges one identifier's records across sources. The primary
// (comprehensive) record wins field by field; each secondary, in priority
// order, fills only fields the accumulated record lacks. The cost field
// additionally falls back to the per-category default table.
func Enrich(primary Record, secondaries ...Record) Record {
	var out Record
	if primary != nil {
		out = primary.Clone()
	} else {
		out = Record{}
	}

	for _, sec := range secondaries {
		for k, v := range sec {
			if v == nil {
				continue
			}
			if existing, ok := out[k]; !ok || existing == nil {
				out[k] = v
			}
		}
	}

	if v, ok := out[CostField]; !ok || v == nil {
		if cost, ok := defaultCostByCategory[out.Category()]; ok {
			out[CostField] = cost
		} else {
			out[CostField] = defaultCostGlobal
		}
	}

	return out
}

// slugCategories maps public category slugs to the source categories they
// cover. Several source categories fold into one slug.
var slugCategories = map[string][]string{
	"beef":       {"beef"},
	"poultry":    {"poultry"},
	"pork":       {"pork"},
	"fish":       {"fish"},
	"vegetables": {"vegetables"},
	"fruits":     {"fruits"},
	"grains":     {"grains"},
	"dairy":      {"dairy", "cheese"},
	"legumes":    {"legumes", "beans"},
	"eggs":       {"eggs"},
	"other":      {"other"},
}

// Catalog resolves identifiers and category slugs against the loaded
// reference data. Built once at startup; read-only afterwards.
type Catalog struct {
	logger *zap.Logger

	// all is the comprehensive source in flattening order.
	all []Record
	// legacyByID indexes the legacy source for enrichment fallback.
	legacyByID map[string]Record
	// byCategory groups comprehensive records by source category.
	byCategory map[string][]Record
}

// NewCatalog flattens both commodity sources out of the store.
func NewCatalog(store *refdata.Store, logger *zap.Logger) *Catalog {
	c := &Catalog{
		logger:     logger,
		legacyByID: make(map[string]Record),
		byCategory: make(map[string][]Record),
	}

	c.all = Flatten(store.Get(refdata.DatasetCommodities))
	for _, rec := range c.all {
		cat := rec.Category()
		c.byCategory[cat] = append(c.byCategory[cat], rec)
	}

	for _, rec := range Flatten(store.Get(refdata.DatasetCommoditiesLegacy)) {
		id := rec.ID()
		if id == "" {
			continue
		}
		// First occurrence wins, matching flattening order.
		if _, ok := c.legacyByID[id]; !ok {
			c.legacyByID[id] = rec
		}
	}

	logger.Info("commodity catalog built",
		zap.Int("comprehensive", len(c.all)),
		zap.Int("legacy", len(c.legacyByID)))

	return c
}

// Len returns the number of comprehensive records.
func (c *Catalog) Len() int {
	return len(c.all)
}

// Resolve looks an identifier up across both sources and returns the
// enriched record. The comprehensive source is searched in flattening order
// and the first match wins. A miss returns ok=false; callers log and skip
// the item rather than failing the batch.
func (c *Catalog) Resolve(id string) (Record, bool) {
	var primary Record
	for _, rec := range c.all {
		if rec.ID() == id {
			primary = rec
			break
		}
	}
	legacy := c.legacyByID[id]
	if primary == nil && legacy == nil {
		return nil, false
	}
	if legacy != nil {
		return Enrich(primary, legacy), true
	}
	return Enrich(primary), true
}

// Slugs returns the valid public category slugs in sorted order.
func (c *Catalog) Slugs() []string {
	slugs := make([]string, 0, len(slugCategories))
	for slug := range slugCategories {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// BySlug returns the enriched records for a public slug: the union of all
// mapped source categories, in category order, with per-record enrichment
// against the legacy source. Unknown slug returns ok=false.
func (c *Catalog) BySlug(slug string) ([]Record, bool) {
	cats, ok := slugCategories[slug]
	if !ok {
		return nil, false
	}
	var out []Record
	for _, cat := range cats {
		for _, rec := range c.byCategory[cat] {
			out = append(out, Enrich(rec, c.legacyByID[rec.ID()]))
		}
	}
	return out, true
}

// CategoryCounts returns record counts per public slug for the summary
// endpoint.
func (c *Catalog) CategoryCounts() map[string]int {
	counts := make(map[string]int, len(slugCategories))
	for slug, cats := range slugCategories {
		n := 0
		for _, cat := range cats {
			n += len(c.byCategory[cat])
		}
		counts[slug] = n
	}
	return counts
}
