package replay

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"polyindex/internal/store"
)

const sortKeyBlockMultiplier = 1_000_000_000

func sortKey(blockNumber, logIndex int64) int64 {
	return blockNumber*sortKeyBlockMultiplier + logIndex
}

// collector interns user addresses to dense ids and accumulates each
// user's raw event vector under one mutex, per spec.md §5: "Concurrent
// insertion into user_events[uid] during Phase 2 is serialized by a
// single mutex; no ordering is required during insertion because Phase 3
// resorts each vector."
type collector struct {
	mu     sync.Mutex
	users  map[string]uint32
	addrs  []string
	events [][]RawEvent
}

func newCollector() *collector {
	return &collector{users: make(map[string]uint32)}
}

func (c *collector) intern(addr string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if uid, ok := c.users[addr]; ok {
		return uid
	}
	uid := uint32(len(c.addrs))
	c.users[addr] = uid
	c.addrs = append(c.addrs, addr)
	c.events = append(c.events, nil)
	return uid
}

func (c *collector) push(uid uint32, ev RawEvent) {
	c.mu.Lock()
	c.events[uid] = append(c.events[uid], ev)
	c.mu.Unlock()
}

// priceMicro computes usdc*1e6/tokens per spec.md §4.5's order_filled/
// fpmm_trade price formula, returning 0 when tokens is 0.
func priceMicro(usdc, tokens int64) int64 {
	if tokens == 0 {
		return 0
	}
	return usdc * 1_000_000 / tokens
}

func tokenIdxFor(isYes bool) uint8 {
	if isYes {
		return 0
	}
	return 1
}

// collectEvents runs Phase 2: eight parallel per-table scans feeding one
// shared collector, grounded on the teacher's errgroup.Group usage in
// cmd/watcher/main.go generalized from supervising goroutines to bounding
// concurrent table scans.
func collectEvents(ctx context.Context, s *store.Store, m *metadata, p *progressCounters) (*collector, error) {
	c := newCollector()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	g.Go(func() error { return scanOrderFilled(gctx, s, m, p, c) })
	g.Go(func() error { return scanSplit(gctx, s, m, p, c) })
	g.Go(func() error { return scanMerge(gctx, s, m, p, c) })
	g.Go(func() error { return scanRedemption(gctx, s, m, p, c) })
	g.Go(func() error { return scanFPMMTrade(gctx, s, m, p, c) })
	g.Go(func() error { return scanFPMMFunding(gctx, s, m, p, c) })
	g.Go(func() error { return scanConvert(gctx, s, m, p, c) })
	g.Go(func() error { return scanTransfer(gctx, s, m, p, c) })

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return c, nil
}

func scanOrderFilled(ctx context.Context, s *store.Store, m *metadata, p *progressCounters, c *collector) error {
	rows, err := s.QueryRows(ctx,
		`SELECT block_number, log_index, maker, taker, token_id, side, usdc_amount, token_amount
		 FROM order_filled ORDER BY block_number, log_index`)
	if err != nil {
		return fmt.Errorf("scanning order_filled: %w", err)
	}
	for _, r := range rows {
		p.orderFilledRows.Add(1)
		loc, ok := m.tokenToCond[hexKey(r["token_id"])]
		if !ok {
			continue
		}
		sk := sortKey(asInt64(r["block_number"]), asInt64(r["log_index"]))
		usdc := asInt64(r["usdc_amount"])
		tokens := asInt64(r["token_amount"])
		price := priceMicro(usdc, tokens)
		tokenIdx := tokenIdxFor(loc.isYes)

		maker := hexKey(r["maker"])
		taker := hexKey(r["taker"])

		var buyerAddr, sellerAddr string
		if asInt64(r["side"]) == 1 { // decode.SideBuy: maker gave USDC, received tokens
			buyerAddr, sellerAddr = maker, taker
		} else {
			buyerAddr, sellerAddr = taker, maker
		}

		buyer := c.intern(buyerAddr)
		seller := c.intern(sellerAddr)
		c.push(buyer, RawEvent{SortKey: sk, CondIdx: loc.condIdx, Type: EventBuy, TokenIdx: tokenIdx, Amount: tokens, Price: price})
		c.push(seller, RawEvent{SortKey: sk, CondIdx: loc.condIdx, Type: EventSell, TokenIdx: tokenIdx, Amount: tokens, Price: price})
		p.orderFilledEvents.Add(2)
	}
	return nil
}

func scanSplit(ctx context.Context, s *store.Store, m *metadata, p *progressCounters, c *collector) error {
	rows, err := s.QueryRows(ctx,
		`SELECT block_number, log_index, stakeholder, condition_id, amount FROM split ORDER BY block_number, log_index`)
	if err != nil {
		return fmt.Errorf("scanning split: %w", err)
	}
	for _, r := range rows {
		p.splitRows.Add(1)
		condIdx, ok := m.conditionIndex[hexKey(r["condition_id"])]
		if !ok {
			continue
		}
		sk := sortKey(asInt64(r["block_number"]), asInt64(r["log_index"]))
		uid := c.intern(hexKey(r["stakeholder"]))
		c.push(uid, RawEvent{SortKey: sk, CondIdx: condIdx, Type: EventSplit, TokenIdx: AllOutcomes, Amount: asInt64(r["amount"])})
		p.splitEvents.Add(1)
	}
	return nil
}

func scanMerge(ctx context.Context, s *store.Store, m *metadata, p *progressCounters, c *collector) error {
	rows, err := s.QueryRows(ctx,
		`SELECT block_number, log_index, stakeholder, condition_id, amount FROM merge ORDER BY block_number, log_index`)
	if err != nil {
		return fmt.Errorf("scanning merge: %w", err)
	}
	for _, r := range rows {
		p.mergeRows.Add(1)
		condIdx, ok := m.conditionIndex[hexKey(r["condition_id"])]
		if !ok {
			continue
		}
		sk := sortKey(asInt64(r["block_number"]), asInt64(r["log_index"]))
		uid := c.intern(hexKey(r["stakeholder"]))
		c.push(uid, RawEvent{SortKey: sk, CondIdx: condIdx, Type: EventMerge, TokenIdx: AllOutcomes, Amount: asInt64(r["amount"])})
		p.mergeEvents.Add(1)
	}
	return nil
}

func scanRedemption(ctx context.Context, s *store.Store, m *metadata, p *progressCounters, c *collector) error {
	rows, err := s.QueryRows(ctx,
		`SELECT block_number, log_index, redeemer, condition_id, index_sets, payout FROM redemption ORDER BY block_number, log_index`)
	if err != nil {
		return fmt.Errorf("scanning redemption: %w", err)
	}
	for _, r := range rows {
		p.redemptionRows.Add(1)
		condIdx, ok := m.conditionIndex[hexKey(r["condition_id"])]
		if !ok {
			continue
		}
		sk := sortKey(asInt64(r["block_number"]), asInt64(r["log_index"]))
		uid := c.intern(hexKey(r["redeemer"]))
		c.push(uid, RawEvent{
			SortKey:  sk,
			CondIdx:  condIdx,
			Type:     EventRedemption,
			TokenIdx: uint8(asInt64(r["index_sets"])),
			Amount:   asInt64(r["payout"]),
		})
		p.redemptionEvents.Add(1)
	}
	return nil
}

func scanFPMMTrade(ctx context.Context, s *store.Store, m *metadata, p *progressCounters, c *collector) error {
	rows, err := s.QueryRows(ctx,
		`SELECT block_number, log_index, fpmm_addr, trader, side, outcome_index, amount, token_amount
		 FROM fpmm_trade ORDER BY block_number, log_index`)
	if err != nil {
		return fmt.Errorf("scanning fpmm_trade: %w", err)
	}
	for _, r := range rows {
		p.fpmmTradeRows.Add(1)
		condIdx, ok := m.fpmmToCond[hexKey(r["fpmm_addr"])]
		if !ok {
			continue
		}
		sk := sortKey(asInt64(r["block_number"]), asInt64(r["log_index"]))
		uid := c.intern(hexKey(r["trader"]))
		tokens := asInt64(r["token_amount"])
		price := priceMicro(asInt64(r["amount"]), tokens)
		eventType := EventFPMMBuy
		if r["side"] == "Sell" {
			eventType = EventFPMMSell
		}
		outcomeIdx := uint8(asInt64(r["outcome_index"]))
		c.push(uid, RawEvent{SortKey: sk, CondIdx: condIdx, Type: eventType, TokenIdx: outcomeIdx, Amount: tokens, Price: price})
		p.fpmmTradeEvents.Add(1)
	}
	return nil
}

func scanFPMMFunding(ctx context.Context, s *store.Store, m *metadata, p *progressCounters, c *collector) error {
	rows, err := s.QueryRows(ctx,
		`SELECT block_number, log_index, fpmm_addr, funder, side, amount0, amount1 FROM fpmm_funding ORDER BY block_number, log_index`)
	if err != nil {
		return fmt.Errorf("scanning fpmm_funding: %w", err)
	}
	for _, r := range rows {
		p.fpmmFundingRows.Add(1)
		condIdx, ok := m.fpmmToCond[hexKey(r["fpmm_addr"])]
		if !ok {
			continue
		}
		sk := sortKey(asInt64(r["block_number"]), asInt64(r["log_index"]))
		uid := c.intern(hexKey(r["funder"]))
		eventType := EventFPMMLPAdd
		if r["side"] == "Remove" {
			eventType = EventFPMMLPRemove
		}
		c.push(uid, RawEvent{
			SortKey:  sk,
			CondIdx:  condIdx,
			Type:     eventType,
			TokenIdx: AllOutcomes,
			Amount:   asInt64(r["amount0"]),
			Price:    asInt64(r["amount1"]),
		})
		p.fpmmFundingEvents.Add(1)
	}
	return nil
}

func scanConvert(ctx context.Context, s *store.Store, m *metadata, p *progressCounters, c *collector) error {
	rows, err := s.QueryRows(ctx,
		`SELECT block_number, log_index, stakeholder, market_id, index_set, amount FROM convert ORDER BY block_number, log_index`)
	if err != nil {
		return fmt.Errorf("scanning convert: %w", err)
	}
	for _, r := range rows {
		p.convertRows.Add(1)
		condIdx, ok := m.marketToCond[hexKey(r["market_id"])]
		if !ok {
			continue
		}
		sk := sortKey(asInt64(r["block_number"]), asInt64(r["log_index"]))
		uid := c.intern(hexKey(r["stakeholder"]))
		c.push(uid, RawEvent{
			SortKey:  sk,
			CondIdx:  condIdx,
			Type:     EventConvert,
			TokenIdx: AllOutcomes,
			Amount:   asInt64(r["amount"]),
			Price:    asInt64(r["index_set"]),
		})
		p.convertEvents.Add(1)
	}
	return nil
}

func scanTransfer(ctx context.Context, s *store.Store, m *metadata, p *progressCounters, c *collector) error {
	rows, err := s.QueryRows(ctx,
		`SELECT block_number, log_index, from_addr, to_addr, token_id, amount FROM transfer ORDER BY block_number, log_index`)
	if err != nil {
		return fmt.Errorf("scanning transfer: %w", err)
	}
	for _, r := range rows {
		p.transferRows.Add(1)
		loc, ok := m.tokenToCond[hexKey(r["token_id"])]
		if !ok {
			continue
		}
		sk := sortKey(asInt64(r["block_number"]), asInt64(r["log_index"]))
		amount := asInt64(r["amount"])
		tokenIdx := tokenIdxFor(loc.isYes)

		fromUID := c.intern(hexKey(r["from_addr"]))
		toUID := c.intern(hexKey(r["to_addr"]))
		c.push(fromUID, RawEvent{SortKey: sk, CondIdx: loc.condIdx, Type: EventTransferOut, TokenIdx: tokenIdx, Amount: amount})
		c.push(toUID, RawEvent{SortKey: sk, CondIdx: loc.condIdx, Type: EventTransferIn, TokenIdx: tokenIdx, Amount: amount})
		p.transferEvents.Add(2)
	}
	return nil
}
