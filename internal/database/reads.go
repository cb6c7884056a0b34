package database

import (
	"context"

	"boxbridge/internal/models"
)

// ==================== Read API Queries ====================

// FindRoutes returns the origin token rows that share a token group with a token on destChainID.
// More than one row means the token configuration is ambiguous.
func (db *DB) FindRoutes(ctx context.Context, origChainID, destChainID uint64, assetAddress string) ([]models.Route, error) {
	var routes []models.Route
	query := `
		SELECT
			t.token_address, t.chain_id, t.token_group, t.decimals, t.symbol,
			dt.token_address AS dest_token_address,
			dt.decimals AS dest_decimals,
			tg.fee_capital_bps, tg.fee_service_raw, tg.exchange_symbol,
			tg.min_units, tg.max_units
		FROM tokens t
		JOIN tokens dt
			ON dt.token_group = t.token_group
			AND dt.chain_id = $2
		JOIN token_groups tg ON tg.token_group = t.token_group
		WHERE t.token_address = LOWER($3)
		AND t.chain_id = $1
		AND t.chain_id <> dt.chain_id
	`
	err := db.SelectContext(ctx, &routes, query, origChainID, destChainID, assetAddress)
	return routes, err
}

// ListTransferViewsByDepositor returns every transfer sent by depositor, newest first
func (db *DB) ListTransferViewsByDepositor(ctx context.Context, depositor string) ([]models.TransferView, error) {
	var transfers []models.TransferView
	query := transferViewSelect + `
		WHERE LOWER(d.depositor_address) = LOWER($1)
		ORDER BY d.deposit_ts DESC
	`
	err := db.SelectContext(ctx, &transfers, query, depositor)
	return transfers, err
}

// ListTransferViewsByHash returns transfers where hash matches any leg's transaction hash
func (db *DB) ListTransferViewsByHash(ctx context.Context, hash string) ([]models.TransferView, error) {
	var transfers []models.TransferView
	query := transferViewSelect + `
		WHERE LOWER(d.txhash_deposit) = LOWER($1)
		OR LOWER(d.txhash_withdraw) = LOWER($1)
		OR LOWER(bt.exchange_withdraw_hash) = LOWER($1)
		OR LOWER(bt.contract_withdraw_hash) = LOWER($1)
		ORDER BY d.deposit_ts DESC
	`
	err := db.SelectContext(ctx, &transfers, query, hash)
	return transfers, err
}
