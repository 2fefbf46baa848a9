package payment

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/session-market/backend/internal/config"
	"github.com/session-market/backend/internal/ledger"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

const receiptKeyPrefix = "rail:receipt:"

// TONRail settles transfers on TON. Outgoing legs (custodian -> payee or
// custodian -> payer) are sent from the custodian hot wallet with the
// idempotency key as the transfer comment. The incoming funding leg
// (payer -> custodian) cannot be initiated server-side; it is verified
// against deposits the watcher recorded in the ledger under the same key.
//
// Completed receipts are kept in redis keyed by idempotency key, so a
// repeated call after a timeout returns the original receipt instead of
// moving funds again.
type TONRail struct {
	wallet        *wallet.Wallet
	custodianAddr string
	store         ledger.Store
	rdb           *redis.Client
	log           *zap.Logger
}

func NewTONRail(ctx context.Context, api ton.APIClientWrapped, cfg *config.Config, store ledger.Store, rdb *redis.Client, log *zap.Logger) (*TONRail, error) {
	if len(cfg.CustodianWalletSeed) == 0 {
		return nil, fmt.Errorf("custodian wallet seed is not configured")
	}
	w, err := wallet.FromSeed(api, cfg.CustodianWalletSeed, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("open custodian wallet: %w", err)
	}

	custodian := cfg.CustodianWalletAddress
	if custodian == "" {
		custodian = w.WalletAddress().String()
	}

	return &TONRail{
		wallet:        w,
		custodianAddr: custodian,
		store:         store,
		rdb:           rdb,
		log:           log,
	}, nil
}

func (r *TONRail) Transfer(ctx context.Context, from, to, amountTON, idempotencyKey string) (*Receipt, error) {
	if prior, err := r.loadReceipt(ctx, idempotencyKey); err != nil {
		return nil, err
	} else if prior != nil {
		r.log.Info("transfer already completed, returning prior receipt",
			zap.String("idempotency_key", idempotencyKey),
			zap.String("reference", prior.Reference))
		return prior, nil
	}

	var receipt *Receipt
	var err error
	if from == r.custodianAddr {
		receipt, err = r.sendOutgoing(ctx, to, amountTON, idempotencyKey)
	} else if to == r.custodianAddr {
		receipt, err = r.verifyDeposit(ctx, from, amountTON, idempotencyKey)
	} else {
		return nil, fmt.Errorf("transfer must involve the custodian wallet (from=%s to=%s)", from, to)
	}
	if err != nil {
		return nil, err
	}

	if err := r.saveReceipt(ctx, receipt); err != nil {
		// The transfer happened; losing the receipt cache only costs a
		// chain lookup on retry. Log and return the receipt.
		r.log.Error("failed to cache transfer receipt", zap.Error(err),
			zap.String("idempotency_key", idempotencyKey))
	}
	return receipt, nil
}

func (r *TONRail) sendOutgoing(ctx context.Context, to, amountTON, idempotencyKey string) (*Receipt, error) {
	dst, err := address.ParseAddr(to)
	if err != nil {
		return nil, fmt.Errorf("invalid destination address %q: %w", to, err)
	}
	coins, err := tlb.FromTON(amountTON)
	if err != nil {
		return nil, fmt.Errorf("invalid TON amount %q: %w", amountTON, err)
	}
	comment, err := wallet.CreateCommentCell(idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("build transfer comment: %w", err)
	}

	tx, _, err := r.wallet.SendWaitTransaction(ctx, wallet.SimpleMessage(dst, coins, comment))
	if err != nil {
		return nil, fmt.Errorf("send %s TON to %s: %w", amountTON, to, err)
	}

	return &Receipt{
		Reference:      hex.EncodeToString(tx.Hash),
		From:           r.custodianAddr,
		To:             to,
		AmountTON:      amountTON,
		IdempotencyKey: idempotencyKey,
		CompletedAt:    time.Now().UTC(),
	}, nil
}

// verifyDeposit checks whether the deposit watcher has observed an incoming
// transfer carrying the idempotency key as its comment and covering the
// expected amount.
func (r *TONRail) verifyDeposit(ctx context.Context, from, amountTON, idempotencyKey string) (*Receipt, error) {
	data, ok, err := r.store.Get(ctx, ledger.PrefixDeposit+idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("look up deposit %s: %w", idempotencyKey, err)
	}
	if !ok {
		return nil, fmt.Errorf("no deposit observed for key %s", idempotencyKey)
	}

	var dep Deposit
	if err := json.Unmarshal(data, &dep); err != nil {
		return nil, fmt.Errorf("decode deposit %s: %w", idempotencyKey, err)
	}

	expected, err := ParseTON(amountTON)
	if err != nil {
		return nil, err
	}
	got, err := ParseTON(dep.AmountTON)
	if err != nil {
		return nil, fmt.Errorf("deposit %s has invalid amount: %w", idempotencyKey, err)
	}
	if got.Cmp(expected) < 0 {
		return nil, fmt.Errorf("deposit %s underpaid: got %s, expected %s", idempotencyKey, dep.AmountTON, amountTON)
	}

	return &Receipt{
		Reference:      dep.TxHash,
		From:           from,
		To:             r.custodianAddr,
		AmountTON:      amountTON,
		IdempotencyKey: idempotencyKey,
		CompletedAt:    dep.ObservedAt,
	}, nil
}

func (r *TONRail) loadReceipt(ctx context.Context, idempotencyKey string) (*Receipt, error) {
	data, err := r.rdb.Get(ctx, receiptKeyPrefix+idempotencyKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load receipt %s: %w", idempotencyKey, err)
	}
	var rec Receipt
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", idempotencyKey, err)
	}
	return &rec, nil
}

func (r *TONRail) saveReceipt(ctx context.Context, rec *Receipt) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.rdb.SetNX(ctx, receiptKeyPrefix+rec.IdempotencyKey, data, 0).Err()
}
