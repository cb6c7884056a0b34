package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"boxbridge/internal/models"
)

// transferViewSelect joins each bridge transfer with its deposit, origin token, latest event and
// destination token. The destination token is collapsed to one row; dest_token_count > 1 flags an
// ambiguous token group.
const transferViewSelect = `
	SELECT
		bt.proxy_contract, bt.origin_chain_id, bt.deposit_id,
		bt.deposit_amount_raw, bt.fee_capital_bps, bt.fee_capital_raw, bt.fee_service_raw,
		bt.deposit_fkey, bt.fee_exchange_raw, bt.withdraw_amount_raw, bt.withdraw_fkey,
		bt.exchange_withdraw_hash, bt.contract_withdraw_hash, bt.ignore_note, bt.release_claimed_at,
		d.destination_chain_id, d.asset_address, d.recipient_address, d.depositor_address,
		d.txhash_deposit, d.deposit_ts, d.txhash_withdraw, d.withdraw_ts,
		t.token_group, t.decimals, t.symbol, tg.exchange_symbol,
		COALESCE(dt.token_address, '') AS dest_token_address,
		dt.token_count AS dest_token_count,
		le.event_ts, le.status, le.next_step, le.event_identifier
	FROM latest_bridge_events le
	JOIN bridge_transfers bt
		ON bt.proxy_contract = le.proxy_contract
		AND bt.origin_chain_id = le.origin_chain_id
		AND bt.deposit_id = le.deposit_id
	JOIN deposits d
		ON d.proxy_contract = bt.proxy_contract
		AND d.origin_chain_id = bt.origin_chain_id
		AND d.deposit_id = bt.deposit_id
	JOIN tokens t
		ON t.token_address = LOWER(d.asset_address)
		AND t.chain_id = d.origin_chain_id
	JOIN token_groups tg ON tg.token_group = t.token_group
	CROSS JOIN LATERAL (
		SELECT MIN(token_address) AS token_address, COUNT(*) AS token_count
		FROM tokens
		WHERE token_group = t.token_group
		AND chain_id = d.destination_chain_id
	) dt
`

// ==================== Step Queries ====================

// ListUnregisteredDeposits returns deposits that have no bridge transfer yet, with their fee schedule
func (db *DB) ListUnregisteredDeposits(ctx context.Context) ([]models.PendingDeposit, error) {
	var deposits []models.PendingDeposit
	query := `
		SELECT
			d.proxy_contract, d.origin_chain_id, d.deposit_id,
			d.amount_raw, d.txhash_deposit,
			tg.fee_capital_bps, tg.fee_service_raw
		FROM deposits d
		JOIN tokens t
			ON t.token_address = LOWER(d.asset_address)
			AND t.chain_id = d.origin_chain_id
		JOIN token_groups tg ON tg.token_group = t.token_group
		LEFT JOIN bridge_transfers bt
			ON bt.proxy_contract = d.proxy_contract
			AND bt.origin_chain_id = d.origin_chain_id
			AND bt.deposit_id = d.deposit_id
		WHERE bt.deposit_id IS NULL
		ORDER BY d.deposit_ts
	`
	err := db.SelectContext(ctx, &deposits, query)
	return deposits, err
}

// ListTransfersAtStep returns non-ignored transfers whose latest event points at step
func (db *DB) ListTransfersAtStep(ctx context.Context, step models.NextStep) ([]models.TransferView, error) {
	var transfers []models.TransferView
	query := transferViewSelect + `
		WHERE le.next_step = $1
		AND bt.ignore_note IS NULL
		ORDER BY le.event_ts
	`
	err := db.SelectContext(ctx, &transfers, query, step)
	return transfers, err
}

// ==================== Transfer Writes ====================

// RegisterTransfer inserts a bridge transfer and its first event. It reports false,
// without appending an event, when the transfer already exists.
func (db *DB) RegisterTransfer(ctx context.Context, transfer *models.BridgeTransfer, event *models.BridgeEvent) (bool, error) {
	created := false
	err := db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO bridge_transfers (
				proxy_contract, origin_chain_id, deposit_id,
				deposit_amount_raw, fee_capital_bps, fee_capital_raw, fee_service_raw
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (proxy_contract, origin_chain_id, deposit_id) DO NOTHING
		`
		result, err := tx.ExecContext(
			ctx, query,
			transfer.ProxyContract,
			transfer.OriginChainID,
			transfer.DepositID,
			transfer.DepositAmountRaw,
			transfer.FeeCapitalBps,
			transfer.FeeCapitalRaw,
			transfer.FeeServiceRaw,
		)
		if err != nil {
			return fmt.Errorf("failed to insert bridge transfer: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}

		created = true
		return insertEvent(ctx, tx, event)
	})
	return created, err
}

// RecordAcknowledged stores the exchange-side deposit id and appends the event
func (db *DB) RecordAcknowledged(ctx context.Context, key models.TransferKey, depositFkey string, event *models.BridgeEvent) error {
	return db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE bridge_transfers
			SET deposit_fkey = $4
			WHERE proxy_contract = $1 AND origin_chain_id = $2 AND deposit_id = $3
		`
		if err := execOne(ctx, tx, query, key.ProxyContract, key.OriginChainID, key.DepositID, depositFkey); err != nil {
			return fmt.Errorf("failed to record deposit key: %w", err)
		}
		return insertEvent(ctx, tx, event)
	})
}

// RecordWithdrawal stores the exchange withdrawal outcome and appends the event
func (db *DB) RecordWithdrawal(
	ctx context.Context,
	key models.TransferKey,
	feeExchange models.RawAmount,
	withdrawAmount models.RawAmount,
	withdrawFkey string,
	event *models.BridgeEvent,
) error {
	return db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE bridge_transfers
			SET fee_exchange_raw = $4, withdraw_amount_raw = $5, withdraw_fkey = $6
			WHERE proxy_contract = $1 AND origin_chain_id = $2 AND deposit_id = $3
		`
		err := execOne(ctx, tx, query,
			key.ProxyContract, key.OriginChainID, key.DepositID,
			feeExchange, withdrawAmount, withdrawFkey)
		if err != nil {
			return fmt.Errorf("failed to record withdrawal: %w", err)
		}
		return insertEvent(ctx, tx, event)
	})
}

// RecordExchangeWithdrawHash stores the exchange's on-chain withdrawal hash and appends the event
func (db *DB) RecordExchangeWithdrawHash(ctx context.Context, key models.TransferKey, hash string, event *models.BridgeEvent) error {
	return db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE bridge_transfers
			SET exchange_withdraw_hash = $4
			WHERE proxy_contract = $1 AND origin_chain_id = $2 AND deposit_id = $3
		`
		if err := execOne(ctx, tx, query, key.ProxyContract, key.OriginChainID, key.DepositID, hash); err != nil {
			return fmt.Errorf("failed to record exchange withdraw hash: %w", err)
		}
		return insertEvent(ctx, tx, event)
	})
}

// ClaimRelease takes a lease on a transfer before its release is submitted.
// It fails when a hash is already recorded or another claim is still live.
func (db *DB) ClaimRelease(ctx context.Context, key models.TransferKey, lease time.Duration) (bool, error) {
	query := `
		UPDATE bridge_transfers
		SET release_claimed_at = NOW()
		WHERE proxy_contract = $1 AND origin_chain_id = $2 AND deposit_id = $3
		AND contract_withdraw_hash IS NULL
		AND ignore_note IS NULL
		AND (release_claimed_at IS NULL OR release_claimed_at < NOW() - make_interval(secs => $4))
	`
	result, err := db.ExecContext(ctx, query, key.ProxyContract, key.OriginChainID, key.DepositID, lease.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to claim release: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// DropReleaseClaim clears a claim whose submission never reached the chain
func (db *DB) DropReleaseClaim(ctx context.Context, key models.TransferKey) error {
	query := `
		UPDATE bridge_transfers
		SET release_claimed_at = NULL
		WHERE proxy_contract = $1 AND origin_chain_id = $2 AND deposit_id = $3
		AND contract_withdraw_hash IS NULL
	`
	_, err := db.ExecContext(ctx, query, key.ProxyContract, key.OriginChainID, key.DepositID)
	return err
}

// RecordContractWithdrawHash stores the release transaction hash right after broadcast
func (db *DB) RecordContractWithdrawHash(ctx context.Context, key models.TransferKey, hash string) error {
	query := `
		UPDATE bridge_transfers
		SET contract_withdraw_hash = $4
		WHERE proxy_contract = $1 AND origin_chain_id = $2 AND deposit_id = $3
		AND contract_withdraw_hash IS NULL
	`
	if err := execOne(ctx, db, query, key.ProxyContract, key.OriginChainID, key.DepositID, hash); err != nil {
		return fmt.Errorf("failed to record contract withdraw hash: %w", err)
	}
	return nil
}

// MarkIgnored excludes a transfer from automation and appends the event
func (db *DB) MarkIgnored(ctx context.Context, key models.TransferKey, note string, event *models.BridgeEvent) error {
	return db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE bridge_transfers
			SET ignore_note = $4
			WHERE proxy_contract = $1 AND origin_chain_id = $2 AND deposit_id = $3
		`
		if err := execOne(ctx, tx, query, key.ProxyContract, key.OriginChainID, key.DepositID, note); err != nil {
			return fmt.Errorf("failed to set ignore note: %w", err)
		}
		return insertEvent(ctx, tx, event)
	})
}

// AppendEvent appends a single event
func (db *DB) AppendEvent(ctx context.Context, event *models.BridgeEvent) error {
	return insertEvent(ctx, db, event)
}

// ==================== Event Queries ====================

// LatestEvent returns the most recent event of a transfer
func (db *DB) LatestEvent(ctx context.Context, key models.TransferKey) (*models.BridgeEvent, error) {
	var event models.BridgeEvent
	query := `
		SELECT event_id, proxy_contract, origin_chain_id, deposit_id,
		       event_ts, status, next_step, event_identifier, note, ext
		FROM latest_bridge_events
		WHERE proxy_contract = $1 AND origin_chain_id = $2 AND deposit_id = $3
	`
	err := db.GetContext(ctx, &event, query, key.ProxyContract, key.OriginChainID, key.DepositID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &event, err
}

// ListEvents returns the full event history of a transfer in insertion order
func (db *DB) ListEvents(ctx context.Context, key models.TransferKey) ([]models.BridgeEvent, error) {
	var events []models.BridgeEvent
	query := `
		SELECT event_id, proxy_contract, origin_chain_id, deposit_id,
		       event_ts, status, next_step, event_identifier, note, ext
		FROM bridge_events
		WHERE proxy_contract = $1 AND origin_chain_id = $2 AND deposit_id = $3
		ORDER BY event_ts, event_id
	`
	err := db.SelectContext(ctx, &events, query, key.ProxyContract, key.OriginChainID, key.DepositID)
	return events, err
}

// ==================== Helpers ====================

// insertEvent appends an event row inside the caller's transaction or connection
func insertEvent(ctx context.Context, exec sqlx.ExecerContext, event *models.BridgeEvent) error {
	ext := event.Ext
	if len(ext) == 0 {
		ext = types.JSONText("{}")
	}

	query := `
		INSERT INTO bridge_events (
			proxy_contract, origin_chain_id, deposit_id,
			status, next_step, event_identifier, note, ext
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := exec.ExecContext(
		ctx, query,
		event.ProxyContract,
		event.OriginChainID,
		event.DepositID,
		event.Status,
		event.NextStep,
		event.EventIdentifier,
		event.Note,
		ext,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// execOne runs an update that must affect exactly one row
func execOne(ctx context.Context, exec sqlx.ExecerContext, query string, args ...interface{}) error {
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows != 1 {
		return fmt.Errorf("expected 1 row affected, got %d", rows)
	}
	return nil
}
