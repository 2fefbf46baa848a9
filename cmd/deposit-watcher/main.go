package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/session-market/backend/internal/config"
	"github.com/session-market/backend/internal/db"
	"github.com/session-market/backend/internal/events"
	"github.com/session-market/backend/internal/ledger"
	"github.com/session-market/backend/internal/payment"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

// The deposit watcher observes incoming transfers to the custodian wallet
// and records each one in the ledger under the funding key carried in the
// transfer comment. The payment rail verifies funding legs against these
// records; the watcher never touches escrow state itself.
const (
	redisCursorLT   = "deposit-watcher:cursor:lt"
	redisCursorHash = "deposit-watcher:cursor:hash"
	redisProcessed  = "deposit-watcher:tx:"
	processedTTL    = 7 * 24 * time.Hour
	txBatchSize     = 100
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.CustodianWalletAddress == "" {
		log.Fatal("CUSTODIAN_WALLET_ADDRESS is required")
	}

	custodian, err := address.ParseAddr(cfg.CustodianWalletAddress)
	if err != nil {
		log.Fatal("invalid CUSTODIAN_WALLET_ADDRESS", zap.String("addr", cfg.CustodianWalletAddress), zap.Error(err))
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	store, cleanup, err := db.OpenLedger(ctx, cfg, rdb, log)
	if err != nil {
		log.Fatal("failed to open ledger store", zap.Error(err))
	}
	defer cleanup()

	publisher := events.NewRedisPublisher(rdb, log)

	tonAPI, err := payment.ConnectTON(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to TON network", zap.Error(err))
	}

	log.Info("deposit watcher started",
		zap.String("custodian_wallet", custodian.String()),
		zap.String("network", cfg.TONNetwork),
	)

	initCursor(ctx, tonAPI, custodian, rdb, log)

	ticker := time.NewTicker(cfg.DepositPollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := pollAndProcess(ctx, tonAPI, custodian, store, publisher, rdb, log); err != nil {
				log.Error("poll cycle failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down deposit watcher")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// initCursor sets the initial cursor position on first run. It stores the
// current account LastTxLT so that only transactions arriving after
// startup are processed.
func initCursor(ctx context.Context, api ton.APIClientWrapped, addr *address.Address, rdb *redis.Client, log *zap.Logger) {
	existing, _ := rdb.Get(ctx, redisCursorLT).Result()
	if existing != "" {
		log.Info("resuming from saved cursor", zap.String("lt", existing))
		return
	}

	block, err := api.CurrentMasterchainInfo(ctx)
	if err != nil {
		log.Warn("failed to get master block for cursor init", zap.Error(err))
		rdb.Set(ctx, redisCursorLT, "0", 0)
		return
	}

	account, err := api.GetAccount(ctx, block, addr)
	if err != nil {
		log.Warn("failed to get account for cursor init", zap.Error(err))
		rdb.Set(ctx, redisCursorLT, "0", 0)
		return
	}

	if account == nil || !account.IsActive || account.LastTxLT == 0 {
		log.Info("custodian wallet not active yet, starting from LT=0")
		rdb.Set(ctx, redisCursorLT, "0", 0)
		return
	}

	saveCursor(ctx, rdb, account.LastTxLT, account.LastTxHash)
	log.Info("cursor initialized at current account state (skipping historical transactions)",
		zap.Uint64("lt", account.LastTxLT),
		zap.String("hash", hex.EncodeToString(account.LastTxHash)),
	)
}

func loadCursorLT(ctx context.Context, rdb *redis.Client) uint64 {
	val, err := rdb.Get(ctx, redisCursorLT).Result()
	if err != nil || val == "" {
		return 0
	}
	lt, _ := strconv.ParseUint(val, 10, 64)
	return lt
}

func saveCursor(ctx context.Context, rdb *redis.Client, lt uint64, hash []byte) {
	rdb.Set(ctx, redisCursorLT, strconv.FormatUint(lt, 10), 0)
	rdb.Set(ctx, redisCursorHash, hex.EncodeToString(hash), 0)
}

// pollAndProcess runs a single poll cycle: fetch transactions newer than
// the cursor, record incoming deposits, advance the cursor.
func pollAndProcess(
	ctx context.Context,
	api ton.APIClientWrapped,
	addr *address.Address,
	store ledger.Store,
	publisher events.Publisher,
	rdb *redis.Client,
	log *zap.Logger,
) error {
	cursorLT := loadCursorLT(ctx, rdb)

	block, err := api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return fmt.Errorf("get master block: %w", err)
	}

	account, err := api.GetAccount(ctx, block, addr)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}

	if account == nil || !account.IsActive || account.LastTxLT == 0 {
		return nil
	}

	if account.LastTxLT <= cursorLT {
		return nil
	}

	newTxs, err := fetchNewTransactions(ctx, api, addr, account, cursorLT)
	if err != nil {
		return fmt.Errorf("fetch transactions: %w", err)
	}

	if len(newTxs) > 0 {
		log.Info("found new transactions", zap.Int("count", len(newTxs)))
		for _, tx := range newTxs {
			processIncomingTx(ctx, tx, store, publisher, rdb, log)
		}
	}

	saveCursor(ctx, rdb, account.LastTxLT, account.LastTxHash)
	return nil
}

// fetchNewTransactions retrieves all transactions with LT > cursorLT.
// ListTransactions returns results oldest-first; we paginate backwards
// until we reach the cursor, then return in chronological order.
func fetchNewTransactions(
	ctx context.Context,
	api ton.APIClientWrapped,
	addr *address.Address,
	account *tlb.Account,
	cursorLT uint64,
) ([]*tlb.Transaction, error) {
	var allTxs []*tlb.Transaction

	lt := account.LastTxLT
	hash := account.LastTxHash

	for {
		txs, err := api.ListTransactions(ctx, addr, uint32(txBatchSize), lt, hash)
		if err != nil {
			return nil, fmt.Errorf("list transactions (lt=%d): %w", lt, err)
		}
		if len(txs) == 0 {
			break
		}

		reachedCursor := false
		for _, tx := range txs {
			if tx.LT <= cursorLT {
				reachedCursor = true
				continue
			}
			allTxs = append(allTxs, tx)
		}

		if reachedCursor || len(txs) < txBatchSize {
			break
		}

		oldest := txs[0]
		if oldest.PrevTxLT == 0 {
			break
		}
		lt = oldest.PrevTxLT
		hash = oldest.PrevTxHash
	}

	sort.Slice(allTxs, func(i, j int) bool {
		return allTxs[i].LT < allTxs[j].LT
	})

	return allTxs, nil
}

// processIncomingTx records a single incoming transfer as a deposit if it
// carries a funding key in its comment. Recording is first-write-wins: a
// replayed transaction or a second transfer reusing the same key cannot
// overwrite the original deposit.
func processIncomingTx(
	ctx context.Context,
	tx *tlb.Transaction,
	store ledger.Store,
	publisher events.Publisher,
	rdb *redis.Client,
	log *zap.Logger,
) {
	if tx.IO.In == nil {
		return
	}

	inMsg, ok := tx.IO.In.Msg.(*tlb.InternalMessage)
	if !ok || inMsg == nil {
		return
	}

	if inMsg.Bounced {
		return
	}

	if inMsg.Amount.Nano().Sign() <= 0 {
		return
	}

	comment := extractComment(inMsg)
	if comment == "" {
		log.Debug("transfer without comment, skipping",
			zap.Uint64("lt", tx.LT),
			zap.String("from", inMsg.SrcAddr.String()),
			zap.String("amount", inMsg.Amount.String()),
		)
		return
	}

	// Idempotency: skip if already processed
	txKey := fmt.Sprintf("%s%d", redisProcessed, tx.LT)
	if rdb.Exists(ctx, txKey).Val() > 0 {
		return
	}

	key := strings.TrimSpace(comment)

	// Only funding legs carry a ledger key; anything else is an unrelated
	// transfer to the custodian wallet.
	if !strings.HasSuffix(key, ":"+payment.PhaseFund) {
		log.Debug("transfer comment is not a funding key, skipping",
			zap.Uint64("lt", tx.LT),
			zap.String("comment", key),
		)
		rdb.Set(ctx, txKey, "not_funding", processedTTL)
		return
	}

	dep := payment.Deposit{
		IdempotencyKey: key,
		TxHash:         hex.EncodeToString(tx.Hash),
		FromIdentity:   inMsg.SrcAddr.String(),
		AmountTON:      inMsg.Amount.String(),
		ObservedAt:     time.Now().UTC(),
	}

	data, err := json.Marshal(dep)
	if err != nil {
		log.Error("failed to encode deposit", zap.Error(err))
		return
	}

	stored, _, err := store.PutIfStatus(ctx, ledger.PrefixDeposit+key, ledger.StatusAbsent, "observed", data)
	if err != nil {
		log.Error("failed to record deposit",
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}
	if !stored {
		log.Warn("deposit key already recorded, ignoring duplicate",
			zap.String("key", key),
			zap.Uint64("lt", tx.LT),
		)
		rdb.Set(ctx, txKey, "duplicate", processedTTL)
		return
	}

	_ = publisher.Publish(ctx, events.StreamMarketplace, events.Event{
		Type: events.EventDepositObserved,
		Payload: map[string]any{
			"idempotency_key": key,
			"tx_hash":         dep.TxHash,
			"tx_lt":           tx.LT,
			"amount_ton":      inMsg.Amount.String(),
			"from":            dep.FromIdentity,
		},
	})

	rdb.Set(ctx, txKey, "recorded:"+key, processedTTL)

	log.Info("deposit recorded",
		zap.String("key", key),
		zap.Uint64("tx_lt", tx.LT),
		zap.String("amount", inMsg.Amount.String()),
		zap.String("from", dep.FromIdentity),
	)
}

// extractComment parses a text comment from an InternalMessage body.
// TON text comments have opcode 0x00000000 followed by UTF-8 text.
func extractComment(inMsg *tlb.InternalMessage) string {
	body := inMsg.Body
	if body == nil {
		return ""
	}

	slice := body.BeginParse()
	if slice.BitsLeft() < 32 {
		return ""
	}

	op, err := slice.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}

	remaining := slice.BitsLeft()
	if remaining < 8 {
		return ""
	}

	data, err := slice.LoadSlice(remaining)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}
