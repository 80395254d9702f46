package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"offramp_go/internal/domain"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

// DefaultGasLimit covers an ERC-20 transfer on every supported chain.
const DefaultGasLimit uint64 = 100_000

// ChainIDs maps chain names to EIP-155 ids.
var ChainIDs = map[string]int64{
	domain.ChainEthereum: 1,
	domain.ChainPolygon:  137,
	domain.ChainBase:     8453,
}

var erc20ABI = mustParseABI(erc20TransferABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ChainReader is the slice of an RPC client the builder needs. *ethclient.Client satisfies it.
type ChainReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// ERC20Builder builds token transfer transactions for one chain.
type ERC20Builder struct {
	chain    string
	chainID  int64
	reader   ChainReader
	gasLimit uint64
}

// NewERC20Builder creates a builder for chain. The chain must be in ChainIDs.
func NewERC20Builder(chain string, reader ChainReader) (*ERC20Builder, error) {
	id, ok := ChainIDs[chain]
	if !ok {
		return nil, fmt.Errorf("no chain id for %s", chain)
	}
	return &ERC20Builder{chain: chain, chainID: id, reader: reader, gasLimit: DefaultGasLimit}, nil
}

func (b *ERC20Builder) Supports(asset domain.AssetOption) bool {
	return asset.IsEVM() && asset.Chain == b.chain && asset.Contract != ""
}

// BuildPayment encodes transfer(destination, amount) against the asset's contract.
func (b *ERC20Builder) BuildPayment(ctx context.Context, req domain.PaymentRequest) (domain.UnsignedTx, error) {
	if !b.Supports(req.Asset) {
		return domain.UnsignedTx{}, &domain.UnsupportedAssetError{Asset: req.Asset.Asset, Chain: req.Asset.Chain}
	}
	if !common.IsHexAddress(req.Source) {
		return domain.UnsignedTx{}, fmt.Errorf("invalid source address %q", req.Source)
	}
	if !common.IsHexAddress(req.Destination) {
		return domain.UnsignedTx{}, fmt.Errorf("invalid destination address %q", req.Destination)
	}

	units, err := BaseUnits(req.Amount, req.Asset.Decimals)
	if err != nil {
		return domain.UnsignedTx{}, err
	}

	data, err := erc20ABI.Pack("transfer", common.HexToAddress(req.Destination), units)
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("pack transfer: %w", err)
	}

	nonce, err := b.reader.PendingNonceAt(ctx, common.HexToAddress(req.Source))
	if err != nil {
		return domain.UnsignedTx{}, domain.NewNetworkError("pending_nonce", err)
	}
	gasPrice, err := b.reader.SuggestGasPrice(ctx)
	if err != nil {
		return domain.UnsignedTx{}, domain.NewNetworkError("gas_price", err)
	}

	contract := common.HexToAddress(req.Asset.Contract)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      b.gasLimit,
		To:       &contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	bin, err := tx.MarshalBinary()
	if err != nil {
		return domain.UnsignedTx{}, err
	}

	signer := types.NewEIP155Signer(big.NewInt(b.chainID))
	return domain.UnsignedTx{
		Chain:   b.chain,
		ChainID: b.chainID,
		Encoded: hexutil.Encode(bin),
		Hash:    signer.Hash(tx).Hex(),
	}, nil
}

// BaseUnits converts a decimal token amount to integer base units.
// Amounts with more precision than the token allows are rejected.
func BaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := amount.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %s exceeds %d decimals", amount, decimals)
	}
	if !shifted.IsPositive() {
		return nil, errors.New("amount must be positive")
	}
	return shifted.BigInt(), nil
}
