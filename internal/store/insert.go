package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"polyindex/internal/decode"
)

// AtomicMultiInsert persists one window's decoded events and advances the
// checkpoint in a single transaction, mirroring
// original_source/core/database.hpp's atomic_multi_insert: every table's
// rows go in with INSERT OR IGNORE (idempotent on retry, per spec.md §3
// invariant 3), a ConditionResolution additionally UPDATEs the condition
// row it resolves, and the new last_block is written in the same
// transaction so a crash between event persistence and checkpoint advance
// is impossible.
func (s *Store) AtomicMultiInsert(ctx context.Context, events *decode.ParsedEvents, newLastBlock int64) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	inserters := []func(context.Context, *sql.Tx, *decode.ParsedEvents) error{
		insertConditionPreparation,
		insertConditionResolution,
		insertTransfer,
		insertSplit,
		insertMerge,
		insertRedemption,
		insertOrderFilled,
		insertTokenMap,
		insertConvert,
		insertNegRiskMarket,
		insertNegRiskQuestion,
		insertFPMM,
		insertFPMMTrade,
		insertFPMMFunding,
	}
	for _, ins := range inserters {
		if err := ins(ctx, tx, events); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_state (key, value) VALUES ('last_block', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(newLastBlock, 10)); err != nil {
		return fmt.Errorf("advancing last_block: %w", err)
	}

	return tx.Commit()
}

func insertConditionPreparation(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.ConditionPreparation) == 0 {
		return nil
	}
	evStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO condition_preparation (block_number, log_index, condition_id, oracle, question_id, outcome_count)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer evStmt.Close()

	condStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO condition (condition_id, oracle, question_id, outcome_count, payout_numerators, resolution_block)
		 VALUES (?, ?, ?, ?, NULL, NULL)`)
	if err != nil {
		return err
	}
	defer condStmt.Close()

	for _, r := range events.ConditionPreparation {
		if _, err := evStmt.ExecContext(ctx, r.BlockNumber, r.LogIndex, r.ConditionID.Bytes(), r.Oracle.Bytes(), r.QuestionID.Bytes(), r.OutcomeCount); err != nil {
			return fmt.Errorf("inserting condition_preparation: %w", err)
		}
		if _, err := condStmt.ExecContext(ctx, r.ConditionID.Bytes(), r.Oracle.Bytes(), r.QuestionID.Bytes(), r.OutcomeCount); err != nil {
			return fmt.Errorf("inserting condition: %w", err)
		}
	}
	return nil
}

func insertConditionResolution(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.ConditionResolution) == 0 {
		return nil
	}
	evStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO condition_resolution (block_number, log_index, condition_id, payout_numerators, resolution_block)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer evStmt.Close()

	updStmt, err := tx.PrepareContext(ctx,
		`UPDATE condition SET payout_numerators = ?, resolution_block = ? WHERE condition_id = ?`)
	if err != nil {
		return err
	}
	defer updStmt.Close()

	for _, r := range events.ConditionResolution {
		payout, err := json.Marshal(r.PayoutNumerators)
		if err != nil {
			return fmt.Errorf("marshaling payout_numerators: %w", err)
		}
		if _, err := evStmt.ExecContext(ctx, r.ResolutionBlock, r.LogIndex, r.ConditionID.Bytes(), string(payout), r.ResolutionBlock); err != nil {
			return fmt.Errorf("inserting condition_resolution: %w", err)
		}
		if _, err := updStmt.ExecContext(ctx, string(payout), r.ResolutionBlock, r.ConditionID.Bytes()); err != nil {
			return fmt.Errorf("updating condition payout: %w", err)
		}
	}
	return nil
}

func insertTransfer(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.Transfer) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO transfer (block_number, log_index, from_addr, to_addr, token_id, amount)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range events.Transfer {
		if _, err := stmt.ExecContext(ctx, r.BlockNumber, r.LogIndex, r.From.Bytes(), r.To.Bytes(), r.TokenID.Bytes(), r.Amount); err != nil {
			return fmt.Errorf("inserting transfer: %w", err)
		}
	}
	return nil
}

func insertSplit(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.Split) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO split (block_number, log_index, stakeholder, condition_id, amount)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range events.Split {
		if _, err := stmt.ExecContext(ctx, r.BlockNumber, r.LogIndex, r.Stakeholder.Bytes(), r.ConditionID.Bytes(), r.Amount); err != nil {
			return fmt.Errorf("inserting split: %w", err)
		}
	}
	return nil
}

func insertMerge(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.Merge) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO merge (block_number, log_index, stakeholder, condition_id, amount)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range events.Merge {
		if _, err := stmt.ExecContext(ctx, r.BlockNumber, r.LogIndex, r.Stakeholder.Bytes(), r.ConditionID.Bytes(), r.Amount); err != nil {
			return fmt.Errorf("inserting merge: %w", err)
		}
	}
	return nil
}

func insertRedemption(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.Redemption) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO redemption (block_number, log_index, redeemer, condition_id, index_sets, payout)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range events.Redemption {
		if _, err := stmt.ExecContext(ctx, r.BlockNumber, r.LogIndex, r.Redeemer.Bytes(), r.ConditionID.Bytes(), r.IndexSets, r.Payout); err != nil {
			return fmt.Errorf("inserting redemption: %w", err)
		}
	}
	return nil
}

func insertOrderFilled(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.OrderFilled) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO order_filled
		 (block_number, log_index, exchange, maker, taker, token_id, side, usdc_amount, token_amount, fee)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range events.OrderFilled {
		if _, err := stmt.ExecContext(ctx, r.BlockNumber, r.LogIndex, r.Exchange, r.Maker.Bytes(), r.Taker.Bytes(),
			r.TokenID.Bytes(), int(r.Side), r.USDCAmount, r.TokenAmount, r.Fee); err != nil {
			return fmt.Errorf("inserting order_filled: %w", err)
		}
	}
	return nil
}

func insertTokenMap(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.TokenMap) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO token_map (token_id, condition_id, exchange, is_yes)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range events.TokenMap {
		if _, err := stmt.ExecContext(ctx, r.TokenID.Bytes(), r.ConditionID.Bytes(), r.Exchange, r.IsYes); err != nil {
			return fmt.Errorf("inserting token_map: %w", err)
		}
	}
	return nil
}

func insertConvert(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.Convert) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO convert (block_number, log_index, stakeholder, market_id, index_set, amount)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range events.Convert {
		if _, err := stmt.ExecContext(ctx, r.BlockNumber, r.LogIndex, r.Stakeholder.Bytes(), r.MarketID.Bytes(), r.IndexSet, r.Amount); err != nil {
			return fmt.Errorf("inserting convert: %w", err)
		}
	}
	return nil
}

func insertNegRiskMarket(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.NegRiskMarket) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO neg_risk_market (market_id, oracle, fee_bips, data)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range events.NegRiskMarket {
		if _, err := stmt.ExecContext(ctx, r.MarketID.Bytes(), r.Oracle.Bytes(), r.FeeBips, r.Data); err != nil {
			return fmt.Errorf("inserting neg_risk_market: %w", err)
		}
	}
	return nil
}

func insertNegRiskQuestion(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.NegRiskQuestion) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO neg_risk_question (question_id, market_id, question_index, data)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range events.NegRiskQuestion {
		if _, err := stmt.ExecContext(ctx, r.QuestionID.Bytes(), r.MarketID.Bytes(), r.QuestionIndex, r.Data); err != nil {
			return fmt.Errorf("inserting neg_risk_question: %w", err)
		}
	}
	return nil
}

func insertFPMM(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.FPMM) == 0 {
		return nil
	}
	poolStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO fpmm (fpmm_addr, collateral_token, fee, creation_block)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer poolStmt.Close()

	condStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO fpmm_condition (fpmm_addr, condition_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer condStmt.Close()

	for _, r := range events.FPMM {
		if _, err := poolStmt.ExecContext(ctx, r.FPMMAddr.Bytes(), r.CollateralToken.Bytes(), r.Fee, r.CreationBlock); err != nil {
			return fmt.Errorf("inserting fpmm: %w", err)
		}
		for _, cid := range r.ConditionIDs {
			if _, err := condStmt.ExecContext(ctx, r.FPMMAddr.Bytes(), cid.Bytes()); err != nil {
				return fmt.Errorf("inserting fpmm_condition: %w", err)
			}
		}
	}
	return nil
}

func insertFPMMTrade(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.FPMMTrade) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO fpmm_trade
		 (block_number, log_index, fpmm_addr, trader, side, outcome_index, amount, fee_amount, token_amount)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range events.FPMMTrade {
		if _, err := stmt.ExecContext(ctx, r.BlockNumber, r.LogIndex, r.FPMMAddr.Bytes(), r.Trader.Bytes(),
			string(r.Side), r.OutcomeIndex, r.Amount, r.FeeAmount, r.TokenAmount); err != nil {
			return fmt.Errorf("inserting fpmm_trade: %w", err)
		}
	}
	return nil
}

func insertFPMMFunding(ctx context.Context, tx *sql.Tx, events *decode.ParsedEvents) error {
	if len(events.FPMMFunding) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO fpmm_funding (block_number, log_index, fpmm_addr, funder, side, amount0, amount1)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range events.FPMMFunding {
		if _, err := stmt.ExecContext(ctx, r.BlockNumber, r.LogIndex, r.FPMMAddr.Bytes(), r.Funder.Bytes(),
			string(r.Side), r.Amount0, r.Amount1); err != nil {
			return fmt.Errorf("inserting fpmm_funding: %w", err)
		}
	}
	return nil
}
