package evm

import (
	"context"
	"errors"
	"fmt"

	"offramp_go/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TxSender submits signed transactions. *ethclient.Client satisfies it.
type TxSender interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ReceiptReader fetches mined receipts. *ethclient.Client satisfies it.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Dial opens one RPC client per configured chain.
func Dial(ctx context.Context, rpcURLs map[string]string) (map[string]*ethclient.Client, error) {
	clients := make(map[string]*ethclient.Client, len(rpcURLs))
	for chain, url := range rpcURLs {
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			for _, open := range clients {
				open.Close()
			}
			return nil, fmt.Errorf("dial %s rpc: %w", chain, err)
		}
		clients[chain] = c
	}
	return clients, nil
}

// Broadcaster sends signed transactions to the RPC of their chain.
type Broadcaster struct {
	senders map[string]TxSender
}

func NewBroadcaster(senders map[string]TxSender) *Broadcaster {
	return &Broadcaster{senders: senders}
}

// Broadcast submits tx once and returns its hash as the reference.
func (b *Broadcaster) Broadcast(ctx context.Context, signed domain.SignedTx) (string, error) {
	sender, ok := b.senders[signed.Chain]
	if !ok {
		return "", fmt.Errorf("no rpc configured for %s", signed.Chain)
	}
	tx, err := decodeTx(signed.Encoded)
	if err != nil {
		return "", err
	}
	if err := sender.SendTransaction(ctx, tx); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

// ReceiptStatusSource maps transaction receipts to settlement states.
type ReceiptStatusSource struct {
	readers map[string]ReceiptReader
}

func NewReceiptStatusSource(readers map[string]ReceiptReader) *ReceiptStatusSource {
	return &ReceiptStatusSource{readers: readers}
}

// SettlementStatus is pending until the receipt exists, then follows its status flag.
func (s *ReceiptStatusSource) SettlementStatus(ctx context.Context, order *domain.OfframpOrder) (domain.SettlementState, error) {
	reader, ok := s.readers[order.Chain]
	if !ok {
		return "", fmt.Errorf("no rpc configured for %s", order.Chain)
	}
	if order.TxRef == "" {
		return "", fmt.Errorf("order %s has no tx reference", order.ID)
	}

	receipt, err := reader.TransactionReceipt(ctx, common.HexToHash(order.TxRef))
	if errors.Is(err, ethereum.NotFound) {
		return domain.SettlementPending, nil
	}
	if err != nil {
		return "", domain.NewNetworkError("tx_receipt", err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return domain.SettlementCompleted, nil
	}
	return domain.SettlementFailed, nil
}
