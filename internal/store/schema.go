package store

// schemaStatements is the exact table and index set from
// original_source/core/database.hpp's init_schema, extended with the
// fpmm/fpmm_condition/fpmm_trade/fpmm_funding tables and the condition
// entity table SPEC_FULL.md's data model adds on top of the distilled
// event-table list.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS condition (
		condition_id BLOB PRIMARY KEY,
		oracle BLOB NOT NULL,
		question_id BLOB NOT NULL,
		outcome_count INTEGER NOT NULL DEFAULT 2,
		payout_numerators TEXT,
		resolution_block BIGINT
	)`,

	`CREATE TABLE IF NOT EXISTS condition_preparation (
		block_number BIGINT NOT NULL,
		log_index INTEGER NOT NULL,
		condition_id BLOB NOT NULL,
		oracle BLOB NOT NULL,
		question_id BLOB NOT NULL,
		outcome_count INTEGER NOT NULL,
		PRIMARY KEY (block_number, log_index)
	)`,

	`CREATE TABLE IF NOT EXISTS condition_resolution (
		block_number BIGINT NOT NULL,
		log_index INTEGER NOT NULL,
		condition_id BLOB NOT NULL,
		payout_numerators TEXT NOT NULL,
		resolution_block BIGINT NOT NULL,
		PRIMARY KEY (block_number, log_index)
	)`,

	`CREATE TABLE IF NOT EXISTS order_filled (
		block_number BIGINT NOT NULL,
		log_index INTEGER NOT NULL,
		exchange TEXT NOT NULL,
		maker BLOB NOT NULL,
		taker BLOB NOT NULL,
		token_id BLOB NOT NULL,
		side INTEGER NOT NULL,
		usdc_amount BIGINT NOT NULL,
		token_amount BIGINT NOT NULL,
		fee BIGINT NOT NULL,
		PRIMARY KEY (block_number, log_index)
	)`,

	`CREATE TABLE IF NOT EXISTS split (
		block_number BIGINT NOT NULL,
		log_index INTEGER NOT NULL,
		stakeholder BLOB NOT NULL,
		condition_id BLOB NOT NULL,
		amount BIGINT NOT NULL,
		PRIMARY KEY (block_number, log_index)
	)`,

	`CREATE TABLE IF NOT EXISTS merge (
		block_number BIGINT NOT NULL,
		log_index INTEGER NOT NULL,
		stakeholder BLOB NOT NULL,
		condition_id BLOB NOT NULL,
		amount BIGINT NOT NULL,
		PRIMARY KEY (block_number, log_index)
	)`,

	`CREATE TABLE IF NOT EXISTS redemption (
		block_number BIGINT NOT NULL,
		log_index INTEGER NOT NULL,
		redeemer BLOB NOT NULL,
		condition_id BLOB NOT NULL,
		index_sets INTEGER NOT NULL,
		payout BIGINT NOT NULL,
		PRIMARY KEY (block_number, log_index)
	)`,

	`CREATE TABLE IF NOT EXISTS convert (
		block_number BIGINT NOT NULL,
		log_index INTEGER NOT NULL,
		stakeholder BLOB NOT NULL,
		market_id BLOB NOT NULL,
		index_set BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		PRIMARY KEY (block_number, log_index)
	)`,

	`CREATE TABLE IF NOT EXISTS transfer (
		block_number BIGINT NOT NULL,
		log_index BIGINT NOT NULL,
		from_addr BLOB NOT NULL,
		to_addr BLOB NOT NULL,
		token_id BLOB NOT NULL,
		amount BIGINT NOT NULL,
		PRIMARY KEY (block_number, log_index)
	)`,

	`CREATE TABLE IF NOT EXISTS token_map (
		token_id BLOB PRIMARY KEY,
		condition_id BLOB NOT NULL,
		exchange TEXT NOT NULL,
		is_yes INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS neg_risk_market (
		market_id BLOB PRIMARY KEY,
		oracle BLOB NOT NULL,
		fee_bips INTEGER NOT NULL,
		data BLOB
	)`,

	`CREATE TABLE IF NOT EXISTS neg_risk_question (
		question_id BLOB PRIMARY KEY,
		market_id BLOB NOT NULL,
		question_index INTEGER NOT NULL,
		data BLOB
	)`,

	`CREATE TABLE IF NOT EXISTS fpmm (
		fpmm_addr BLOB PRIMARY KEY,
		collateral_token BLOB NOT NULL,
		fee BIGINT NOT NULL,
		creation_block BIGINT NOT NULL
	)`,

	// One row per (pool, condition) pair: neg-risk pools list more than one
	// condition id in their creation event.
	`CREATE TABLE IF NOT EXISTS fpmm_condition (
		fpmm_addr BLOB NOT NULL,
		condition_id BLOB NOT NULL,
		PRIMARY KEY (fpmm_addr, condition_id)
	)`,

	`CREATE TABLE IF NOT EXISTS fpmm_trade (
		block_number BIGINT NOT NULL,
		log_index INTEGER NOT NULL,
		fpmm_addr BLOB NOT NULL,
		trader BLOB NOT NULL,
		side TEXT NOT NULL,
		outcome_index INTEGER NOT NULL,
		amount BIGINT NOT NULL,
		fee_amount BIGINT NOT NULL,
		token_amount BIGINT NOT NULL,
		PRIMARY KEY (block_number, log_index)
	)`,

	`CREATE TABLE IF NOT EXISTS fpmm_funding (
		block_number BIGINT NOT NULL,
		log_index INTEGER NOT NULL,
		fpmm_addr BLOB NOT NULL,
		funder BLOB NOT NULL,
		side TEXT NOT NULL,
		amount0 BIGINT NOT NULL,
		amount1 BIGINT NOT NULL,
		PRIMARY KEY (block_number, log_index)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_order_filled_maker ON order_filled(maker)`,
	`CREATE INDEX IF NOT EXISTS idx_order_filled_taker ON order_filled(taker)`,
	`CREATE INDEX IF NOT EXISTS idx_order_filled_token ON order_filled(token_id)`,
	`CREATE INDEX IF NOT EXISTS idx_split_stakeholder ON split(stakeholder)`,
	`CREATE INDEX IF NOT EXISTS idx_merge_stakeholder ON merge(stakeholder)`,
	`CREATE INDEX IF NOT EXISTS idx_redemption_redeemer ON redemption(redeemer)`,
	`CREATE INDEX IF NOT EXISTS idx_convert_stakeholder ON convert(stakeholder)`,
	`CREATE INDEX IF NOT EXISTS idx_transfer_from ON transfer(from_addr)`,
	`CREATE INDEX IF NOT EXISTS idx_transfer_to ON transfer(to_addr)`,
	`CREATE INDEX IF NOT EXISTS idx_neg_risk_question_market ON neg_risk_question(market_id)`,
	`CREATE INDEX IF NOT EXISTS idx_fpmm_trade_fpmm ON fpmm_trade(fpmm_addr)`,
	`CREATE INDEX IF NOT EXISTS idx_fpmm_funding_fpmm ON fpmm_funding(fpmm_addr)`,
}
