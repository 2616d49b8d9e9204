package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWalletFeePolicy_KnownChain(t *testing.T) {
	quote := WalletFeePolicy{}.Quote(1000, "USDT", "polygon")

	assert.Equal(t, 0.1, quote.GasFee)
	assert.InDelta(t, 1.0, quote.PlatformFee, 1e-9)
	assert.InDelta(t, quote.GasFee+quote.PlatformFee, quote.TotalFee, 1e-9)
	assert.InDelta(t, 1000-quote.TotalFee, quote.NetAmount, 1e-9)
	assert.Zero(t, quote.BridgeFee)
}

func TestWalletFeePolicy_UnknownChainFallsBack(t *testing.T) {
	quote := WalletFeePolicy{}.Quote(100, "USDT", "somechain")
	assert.Equal(t, defaultGasFee, quote.GasFee)
}

func TestWalletFeePolicy_ChainCaseInsensitive(t *testing.T) {
	assert.Equal(t, WalletFeePolicy{}.Quote(100, "USDT", "Ethereum"),
		WalletFeePolicy{}.Quote(100, "USDT", "ethereum"))
}

func TestFiatFeePolicy_ProviderRate(t *testing.T) {
	quote := FiatFeePolicy{}.Quote(1000, "USDT", "")

	// rampline carries USDT at 1.5%.
	assert.InDelta(t, 15.0, quote.BridgeFee, 1e-9)
	assert.InDelta(t, 985.0, quote.NetAmount, 1e-9)
	assert.Zero(t, quote.GasFee)
}

func TestFiatFeePolicy_DefaultRate(t *testing.T) {
	quote := FiatFeePolicy{}.Quote(1000, "DOGE", "")
	assert.InDelta(t, 20.0, quote.BridgeFee, 1e-9)
}

func TestInternalFeePolicy_Free(t *testing.T) {
	quote := InternalFeePolicy{}.Quote(50, "USDT", "")
	assert.Zero(t, quote.TotalFee)
	assert.Equal(t, 50.0, quote.NetAmount)
}
