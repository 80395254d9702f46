package domain

import "strings"

// Chain names as shown to users.
const (
	ChainStellar  = "Stellar"
	ChainEthereum = "Ethereum"
	ChainPolygon  = "Polygon"
	ChainBase     = "Base"
)

// AssetOption is a sellable (asset, chain) holding.
type AssetOption struct {
	ID    string `json:"id"`
	Asset string `json:"asset"`
	Chain string `json:"chain"`
	Label string `json:"label"`
	// Contract and Decimals are set for ERC-20 tokens only.
	Contract string `json:"contract,omitempty"`
	Decimals int32  `json:"decimals"`
}

// IsEVM reports whether the option settles on an EVM chain.
func (a AssetOption) IsEVM() bool {
	switch a.Chain {
	case ChainEthereum, ChainPolygon, ChainBase:
		return true
	}
	return false
}

// Assets is the supported catalogue. Order matters for display.
var Assets = []AssetOption{
	{ID: "cngn-stellar", Asset: "cNGN", Chain: ChainStellar, Label: "cNGN", Decimals: 7},
	{ID: "usdc-stellar", Asset: "USDC", Chain: ChainStellar, Label: "USDC", Decimals: 7},
	{ID: "usdc-ethereum", Asset: "USDC", Chain: ChainEthereum, Label: "USDC", Contract: "0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
	{ID: "usdc-polygon", Asset: "USDC", Chain: ChainPolygon, Label: "USDC", Contract: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174", Decimals: 6},
	{ID: "usdc-base", Asset: "USDC", Chain: ChainBase, Label: "USDC", Contract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bda02913", Decimals: 6},
	{ID: "usdt-ethereum", Asset: "USDT", Chain: ChainEthereum, Label: "USDT", Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
	{ID: "usdt-polygon", Asset: "USDT", Chain: ChainPolygon, Label: "USDT", Contract: "0xC2132D05D31c914a87C6611C10748AaCbA948e8F", Decimals: 6},
	{ID: "xlm-stellar", Asset: "XLM", Chain: ChainStellar, Label: "XLM", Decimals: 7},
}

// FindAsset looks an option up by its id.
func FindAsset(id string) (AssetOption, bool) {
	for _, a := range Assets {
		if a.ID == id {
			return a, true
		}
	}
	return AssetOption{}, false
}

// FindAssetByPair looks an option up by asset code and chain, case-insensitively.
func FindAssetByPair(asset, chain string) (AssetOption, bool) {
	for _, a := range Assets {
		if strings.EqualFold(a.Asset, asset) && strings.EqualFold(a.Chain, chain) {
			return a, true
		}
	}
	return AssetOption{}, false
}
