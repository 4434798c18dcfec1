package intel

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"curvewarden/internal/cache"
	"curvewarden/internal/domain"
)

const patternsHashKey = "intel:patterns"

// PatternDatabase stores learned entry/exit patterns in a single hash
// keyed by pattern id and tracks rolling outcome statistics per pattern.
type PatternDatabase struct {
	cache *cache.Service
}

// NewPatternDatabase constructs a PatternDatabase.
func NewPatternDatabase(c *cache.Service) *PatternDatabase {
	return &PatternDatabase{cache: c}
}

// Put upserts a pattern definition.
func (d *PatternDatabase) Put(ctx context.Context, p domain.Pattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return d.cache.HSet(ctx, patternsHashKey, p.ID, data)
}

func (d *PatternDatabase) all(ctx context.Context) ([]domain.Pattern, error) {
	raw, err := d.cache.HGetAll(ctx, patternsHashKey)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Pattern, 0, len(raw))
	for _, v := range raw {
		var p domain.Pattern
		if err := json.Unmarshal([]byte(v), &p); err == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// matchCondition evaluates a single PatternCondition against value,
// supporting all six operators.
func matchCondition(cond domain.PatternCondition, value float64) bool {
	if len(cond.Value) == 0 {
		return false
	}
	switch cond.Operator {
	case domain.OpGT:
		return value > cond.Value[0]
	case domain.OpLT:
		return value < cond.Value[0]
	case domain.OpEQ:
		return value == cond.Value[0]
	case domain.OpGTE:
		return value >= cond.Value[0]
	case domain.OpLTE:
		return value <= cond.Value[0]
	case domain.OpBetween:
		if len(cond.Value) < 2 {
			return false
		}
		return value >= cond.Value[0] && value <= cond.Value[1]
	default:
		return false
	}
}

// matchAll reports whether every condition in p matches the values in
// context, keyed by PatternCondition.Field.
func matchAll(p domain.Pattern, context map[string]float64) bool {
	for _, cond := range p.Conditions {
		value, ok := context[cond.Field]
		if !ok || !matchCondition(cond, value) {
			return false
		}
	}
	return true
}

// FindMatches returns every pattern with at least 3 recorded outcomes
// whose conditions all match context, sorted by sampleSize*hitRate
// descending.
func (d *PatternDatabase) FindMatches(ctx context.Context, context map[string]float64) ([]domain.Pattern, error) {
	patterns, err := d.all(ctx)
	if err != nil {
		return nil, err
	}

	var matches []domain.Pattern
	for _, p := range patterns {
		if p.OutcomeCount < 3 {
			continue
		}
		if matchAll(p, context) {
			matches = append(matches, p)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return float64(matches[i].OutcomeCount)*matches[i].HitRate() > float64(matches[j].OutcomeCount)*matches[j].HitRate()
	})
	return matches, nil
}

// RecordOutcome updates a pattern's rolling statistics with the standard
// incremental-mean formula and persists it.
func (d *PatternDatabase) RecordOutcome(ctx context.Context, patternID string, returnPercent float64, holdDurationMs float64, positive bool) error {
	patterns, err := d.all(ctx)
	if err != nil {
		return err
	}
	var found *domain.Pattern
	for i := range patterns {
		if patterns[i].ID == patternID {
			found = &patterns[i]
			break
		}
	}
	if found == nil {
		return nil
	}

	found.OutcomeCount++
	n := float64(found.OutcomeCount)
	found.AvgReturnPercent = (found.AvgReturnPercent*(n-1) + returnPercent) / n
	found.AvgHoldDurationMs = (found.AvgHoldDurationMs*(n-1) + holdDurationMs) / n
	if positive {
		found.PositiveOutcomes++
	} else {
		found.NegativeOutcomes++
	}
	found.LastMatchedAt = time.Now()

	return d.Put(ctx, *found)
}
