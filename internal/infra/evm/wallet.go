// Package evm builds, signs, broadcasts and tracks ERC-20 settlement payments.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"offramp_go/internal/domain"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalWallet is a server-held secp256k1 key satisfying domain.Wallet.
type LocalWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address

	mu        sync.RWMutex
	connected bool
}

// NewLocalWallet parses a hex private key, with or without 0x.
func NewLocalWallet(hexKey string) (*LocalWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	return newLocalWallet(key), nil
}

// GenerateLocalWallet creates a throwaway wallet.
func GenerateLocalWallet() (*LocalWallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return newLocalWallet(key), nil
}

func newLocalWallet(key *ecdsa.PrivateKey) *LocalWallet {
	return &LocalWallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (w *LocalWallet) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	w.connected = true
	w.mu.Unlock()
	return nil
}

func (w *LocalWallet) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// PublicKey returns the checksummed address.
func (w *LocalWallet) PublicKey() string { return w.address.Hex() }

// SignMessage produces a personal_sign (EIP-191) signature over message.
func (w *LocalWallet) SignMessage(ctx context.Context, message, publicKey string) (string, error) {
	if !w.IsConnected() {
		return "", domain.ErrWalletNotConnected
	}
	if err := ctx.Err(); err != nil {
		return "", domain.ErrSigningCancelled
	}
	if publicKey != "" && !strings.EqualFold(publicKey, w.address.Hex()) {
		return "", fmt.Errorf("%w: key %s is not held by this wallet", domain.ErrSigningFailed, publicKey)
	}

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// SignTransaction signs an encoded legacy transaction with EIP-155 replay protection.
func (w *LocalWallet) SignTransaction(ctx context.Context, unsigned domain.UnsignedTx) (domain.SignedTx, error) {
	if !w.IsConnected() {
		return domain.SignedTx{}, domain.ErrWalletNotConnected
	}
	if err := ctx.Err(); err != nil {
		return domain.SignedTx{}, domain.ErrSigningCancelled
	}

	tx, err := decodeTx(unsigned.Encoded)
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(unsigned.ChainID)), w.key)
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	bin, err := signed.MarshalBinary()
	if err != nil {
		return domain.SignedTx{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	return domain.SignedTx{Chain: unsigned.Chain, Encoded: hexutil.Encode(bin)}, nil
}

// RecoverSigner returns the address that produced a SignMessage signature.
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, err
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	sig[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func decodeTx(encoded string) (*types.Transaction, error) {
	raw, err := hexutil.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	return tx, nil
}
