package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"polyindex/internal/store"
)

// metadata is Phase 1's output: the interned condition/token/fpmm maps
// every later phase looks up against. All hex ids are lower-cased before
// use so case variation in address/hash rendering can never split one
// logical key into two map entries.
type metadata struct {
	conditions     []conditionInfo   // cond_idx -> info (real conditions, then synthetic market slots)
	conditionIDs   []string          // cond_idx -> canonical lower-hex id, for reverse lookup
	conditionIndex map[string]uint32 // lower-hex condition_id -> cond_idx
	tokenToCond    map[string]tokenLocation
	fpmmToCond     map[string]uint32
	marketToCond   map[string]uint32 // lower-hex market_id -> synthetic cond_idx, for Convert rows
}

type tokenLocation struct {
	condIdx uint32
	isYes   bool
}

func loadMetadata(ctx context.Context, s *store.Store) (*metadata, error) {
	m := &metadata{
		conditionIndex: make(map[string]uint32),
		tokenToCond:    make(map[string]tokenLocation),
		fpmmToCond:     make(map[string]uint32),
		marketToCond:   make(map[string]uint32),
	}

	rows, err := s.QueryRows(ctx, "SELECT condition_id, outcome_count, payout_numerators FROM condition")
	if err != nil {
		return nil, fmt.Errorf("loading conditions: %w", err)
	}
	for _, r := range rows {
		id := hexKey(r["condition_id"])
		outcomeCount := asInt64(r["outcome_count"])
		payout := decodePayout(r["payout_numerators"])

		idx := uint32(len(m.conditions))
		m.conditions = append(m.conditions, conditionInfo{
			outcomeCount:     uint8(outcomeCount),
			payoutNumerators: payout,
		})
		m.conditionIDs = append(m.conditionIDs, id)
		m.conditionIndex[id] = idx
	}

	tokenRows, err := s.QueryRows(ctx, "SELECT token_id, condition_id, is_yes FROM token_map")
	if err != nil {
		return nil, fmt.Errorf("loading token_map: %w", err)
	}
	for _, r := range tokenRows {
		condID := hexKey(r["condition_id"])
		idx, ok := m.conditionIndex[condID]
		if !ok {
			continue // unresolvable token, counted by the caller's row/event totals
		}
		m.tokenToCond[hexKey(r["token_id"])] = tokenLocation{
			condIdx: idx,
			isYes:   asInt64(r["is_yes"]) != 0,
		}
	}

	// One condition per fpmm_addr: the primary market's condition for
	// single-outcome pools. Neg-risk pools spanning multiple conditions
	// (fpmm_condition has >1 row) use the first — replay's accounting
	// model, inherited unchanged from spec.md §4.5, has no multi-condition
	// FPMM trade rule to apply the others against.
	fpmmRows, err := s.QueryRows(ctx,
		`SELECT fpmm_addr, condition_id FROM fpmm_condition GROUP BY fpmm_addr HAVING rowid = MIN(rowid)`)
	if err != nil {
		return nil, fmt.Errorf("loading fpmm_condition: %w", err)
	}
	for _, r := range fpmmRows {
		condID := hexKey(r["condition_id"])
		idx, ok := m.conditionIndex[condID]
		if !ok {
			continue
		}
		m.fpmmToCond[hexKey(r["fpmm_addr"])] = idx
	}

	// Convert rows carry a neg-risk market_id, not a condition_id: spec.md's
	// accounting rule for Convert only ever bumps realized_pnl (positions
	// are explicitly unchanged), so it needs a cond_idx slot to accumulate
	// into without colliding with a real CTF condition's bookkeeping. Each
	// market gets its own synthetic slot appended after the real
	// conditions, interned the same way.
	marketRows, err := s.QueryRows(ctx, "SELECT market_id FROM neg_risk_market")
	if err != nil {
		return nil, fmt.Errorf("loading neg_risk_market: %w", err)
	}
	for _, r := range marketRows {
		id := hexKey(r["market_id"])
		idx := uint32(len(m.conditions))
		m.conditions = append(m.conditions, conditionInfo{outcomeCount: 2})
		m.conditionIDs = append(m.conditionIDs, id)
		m.marketToCond[id] = idx
	}

	return m, nil
}

// hexKey normalizes a BLOB (or already-hex TEXT) column value to a
// lower-cased "0x"-free hex string usable as a stable map key.
func hexKey(v any) string {
	switch val := v.(type) {
	case []byte:
		return strings.ToLower(fmt.Sprintf("%x", val))
	case string:
		return strings.ToLower(strings.TrimPrefix(val, "0x"))
	default:
		return ""
	}
}

func asInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case float64:
		return int64(val)
	default:
		return 0
	}
}

// decodePayout parses the condition table's JSON-array payout_numerators
// column, returning nil for an unresolved condition (NULL or empty).
func decodePayout(v any) []int64 {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	var payout []int64
	if err := json.Unmarshal([]byte(s), &payout); err != nil {
		return nil
	}
	return payout
}
