package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"commodityd/internal/commodity"
	"commodityd/internal/prompt"
	"commodityd/internal/refdata"
	"commodityd/internal/relay"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"service": s.cfg.Name,
		"version": s.cfg.Version,
		"status":  "ok",
	})
}

func (s *Server) handleCommoditySummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"total":      s.catalog.Len(),
		"categories": s.catalog.CategoryCounts(),
		"slugs":      s.catalog.Slugs(),
	})
}

func (s *Server) handleCommodityCategory(w http.ResponseWriter, r *http.Request, slug string) {
	records, ok := s.catalog.BySlug(slug)
	if !ok {
		s.writeJSON(w, r, http.StatusNotFound, map[string]any{
			"error":            fmt.Sprintf("unknown category %q", slug),
			"valid_categories": s.catalog.Slugs(),
		})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"category": slug,
		"count":    len(records),
		"items":    records,
	})
}

func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request, name string) {
	s.writeJSON(w, r, http.StatusOK, s.store.Get(name))
}

// allocationLine is one requested order line. Quantity is accepted in
// pounds; a case count is passed through for the model to reconcile.
type allocationLine struct {
	WBSCMID     string  `json:"wbscm_id"`
	QuantityLbs float64 `json:"quantity_lbs"`
	Cases       float64 `json:"cases,omitempty"`
}

type allocateRequest struct {
	Items        []allocationLine `json:"items"`
	OzPerServing float64          `json:"oz_per_serving"`
	AnnualMeals  int              `json:"annual_meals"`
}

type complianceRequest struct {
	WeekMenu   map[string]any `json:"week_menu"`
	GradeGroup string         `json:"grade_group"`
}

type budgetRequest struct {
	TotalCommoditySpend float64 `json:"total_commodity_spend"`
	AnnualMeals         int     `json:"total_annual_meals"`
	OtherFoodPerMeal    float64 `json:"other_food_cost_per_meal"`
	LaborPerMeal        float64 `json:"labor_overhead_per_meal"`
}

type entitlementRequest struct {
	Allocations map[string]any `json:"allocations"`
	AnnualMeals int            `json:"total_annual_meals"`
}

type chatRequest struct {
	Message string `json:"message"`
	Context string `json:"context"`

	// Sandbox stays on unless the caller turns it off.
	EnableCodeExecution *bool `json:"enable_code_execution"`
}

// handleStream parses the request for one operation kind, assembles the
// prompt, and relays the upstream response as SSE.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, kind string) {
	built, err := s.buildPrompt(r, prompt.Kind(kind))
	if err != nil {
		if errors.Is(err, errNoValidItems) {
			// Nothing resolved; answer with a single error event and never
			// call the model.
			s.emitStreamError(w, r, kind, err)
			return
		}
		status := http.StatusBadRequest
		if err == errUnknownKind {
			status = http.StatusNotFound
		}
		s.writeError(w, r, status, err.Error())
		return
	}

	logger := s.logger.With(
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("kind", kind))
	logger.Info("stream start", zap.Int("prompt_bytes", len(built.text)))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	s.metrics.requestsTotal.WithLabelValues(routeLabel(r), "200").Inc()
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	start := time.Now()
	chunks, errs := s.upstream.StreamGenerateContent(r.Context(), built.text, built.codeExecution)
	agg, runErr := s.relay.Run(r.Context(), w, chunks, errs)

	outcome := "done"
	if runErr != nil {
		outcome = "error"
	}
	s.metrics.streamsTotal.WithLabelValues(kind, outcome).Inc()
	s.metrics.streamDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	s.metrics.streamEvents.WithLabelValues(kind, "code").Add(float64(len(agg.CodeBlocks)))
	s.metrics.streamEvents.WithLabelValues(kind, "result").Add(float64(len(agg.CodeResults)))
	s.metrics.streamEvents.WithLabelValues(kind, outcome).Inc()

	if runErr != nil {
		logger.Warn("stream failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(runErr))
		return
	}
	logger.Info("stream complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("text_bytes", len(agg.Text)),
		zap.Int("code_blocks", len(agg.CodeBlocks)),
		zap.Int("code_results", len(agg.CodeResults)))
}

var (
	errUnknownKind  = errors.New("unknown stream kind")
	errNoValidItems = errors.New("no valid commodities found")
)

// emitStreamError answers a streaming request with exactly one error event.
func (s *Server) emitStreamError(w http.ResponseWriter, r *http.Request, kind string, cause error) {
	s.logger.Warn("stream rejected",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.String("kind", kind),
		zap.Error(cause))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	s.metrics.requestsTotal.WithLabelValues(routeLabel(r), "200").Inc()
	s.metrics.streamsTotal.WithLabelValues(kind, "error").Inc()
	s.metrics.streamEvents.WithLabelValues(kind, "error").Inc()

	payload, err := json.Marshal(relay.Event{Type: relay.EventError, Data: cause.Error()})
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// builtPrompt pairs the assembled text with the tool-enablement decision
// for its operation kind.
type builtPrompt struct {
	text          string
	codeExecution bool
}

// buildPrompt decodes the request body for kind and assembles the prompt.
// Unresolvable allocation items are logged and skipped, not fatal.
func (s *Server) buildPrompt(r *http.Request, kind prompt.Kind) (builtPrompt, error) {
	decode := func(v any) error {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			return fmt.Errorf("decode request: %w", err)
		}
		return nil
	}

	switch kind {
	case prompt.KindAllocate:
		var req allocateRequest
		if err := decode(&req); err != nil {
			return builtPrompt{}, err
		}
		items := make([]commodity.Record, 0, len(req.Items))
		for _, line := range req.Items {
			rec, ok := s.catalog.Resolve(line.WBSCMID)
			if !ok {
				s.logger.Warn("unresolved commodity, skipping line",
					zap.String("request_id", requestIDFrom(r.Context())),
					zap.String("wbscm_id", line.WBSCMID))
				continue
			}
			rec["quantity_lbs"] = line.QuantityLbs
			if line.Cases > 0 {
				rec["requested_cases"] = line.Cases
			}
			items = append(items, rec)
		}
		if len(items) == 0 {
			return builtPrompt{}, errNoValidItems
		}
		return builtPrompt{text: prompt.Allocation(prompt.AllocationInput{
			Items:        items,
			OzPerServing: req.OzPerServing,
			AnnualMeals:  req.AnnualMeals,
			Yields:       s.store.Get(refdata.DatasetYieldFactors),
		}), codeExecution: true}, nil

	case prompt.KindCompliance:
		var req complianceRequest
		if err := decode(&req); err != nil {
			return builtPrompt{}, err
		}
		group := req.GradeGroup
		if group == "" {
			group = "elementary"
		}
		requirements := s.store.Sub(refdata.DatasetMealPatterns, group)
		if len(requirements) == 0 {
			requirements = s.store.Sub(refdata.DatasetMealPatterns, "elementary")
		}
		return builtPrompt{text: prompt.Compliance(prompt.ComplianceInput{
			WeekMenu:     req.WeekMenu,
			GradeGroup:   group,
			Requirements: requirements,
		}), codeExecution: true}, nil

	case prompt.KindBudget:
		var req budgetRequest
		if err := decode(&req); err != nil {
			return builtPrompt{}, err
		}
		return builtPrompt{text: prompt.Budget(prompt.BudgetInput{
			TotalCommoditySpend: req.TotalCommoditySpend,
			AnnualMeals:         req.AnnualMeals,
			OtherFoodPerMeal:    req.OtherFoodPerMeal,
			LaborPerMeal:        req.LaborPerMeal,
			ReimbursementRates:  s.store.Sub(refdata.DatasetDistrictProfile, "reimbursement_rates"),
			Demographics:        s.store.Sub(refdata.DatasetDistrictProfile, "demographics"),
		}), codeExecution: true}, nil

	case prompt.KindEntitlement:
		var req entitlementRequest
		if err := decode(&req); err != nil {
			return builtPrompt{}, err
		}
		profile := s.store.Get(refdata.DatasetDistrictProfile)
		entitlement, _ := profile["total_entitlement"].(float64)
		meals := req.AnnualMeals
		if meals <= 0 {
			if v, ok := profile["annual_meals"].(float64); ok {
				meals = int(v)
			}
		}
		return builtPrompt{text: prompt.Entitlement(prompt.EntitlementInput{
			Allocations:      req.Allocations,
			TotalEntitlement: entitlement,
			AnnualMeals:      meals,
		}), codeExecution: true}, nil

	case prompt.KindChat:
		var req chatRequest
		if err := decode(&req); err != nil {
			return builtPrompt{}, err
		}
		if req.Message == "" {
			return builtPrompt{}, fmt.Errorf("message is required")
		}
		codeExecution := true
		if req.EnableCodeExecution != nil {
			codeExecution = *req.EnableCodeExecution
		}
		return builtPrompt{text: prompt.Chat(prompt.ChatInput{
			Message: req.Message,
			Context: req.Context,
		}), codeExecution: codeExecution}, nil

	default:
		return builtPrompt{}, errUnknownKind
	}
}
