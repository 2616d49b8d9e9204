package service

import (
	"strings"
	"time"

	"redpocket/internal/withdrawal/models"
	id "redpocket/pkg/domain"
)

// FeePolicy computes the fee quote for one withdrawal kind.
type FeePolicy interface {
	Quote(amount float64, token id.Token, chain string) models.FeeQuote
}

const walletPlatformFeeRate = 0.001 // 0.1%

// gasByChain is the flat per-withdrawal gas cost in token units. Chains not
// listed fall back to defaultGasFee.
var gasByChain = map[string]float64{
	"ethereum": 5.0,
	"bsc":      0.5,
	"polygon":  0.1,
	"arbitrum": 0.3,
	"base":     0.2,
}

const defaultGasFee = 1.0

// WalletFeePolicy prices on-chain withdrawals: per-chain gas plus a
// proportional platform fee.
type WalletFeePolicy struct{}

func (WalletFeePolicy) Quote(amount float64, _ id.Token, chain string) models.FeeQuote {
	gas, ok := gasByChain[strings.ToLower(chain)]
	if !ok {
		gas = defaultGasFee
	}
	platform := amount * walletPlatformFeeRate
	total := gas + platform
	return models.FeeQuote{
		GasFee:      gas,
		PlatformFee: platform,
		TotalFee:    total,
		NetAmount:   amount - total,
		ETA:         10 * time.Minute,
	}
}

// fiatProvider is one off-ramp partner with its proportional rate.
type fiatProvider struct {
	name   string
	rate   float64
	tokens map[id.Token]bool
	eta    time.Duration
}

var fiatProviders = []fiatProvider{
	{name: "rampline", rate: 0.015, tokens: map[id.Token]bool{"USDT": true, "USDC": true}, eta: 2 * time.Hour},
	{name: "coinout", rate: 0.018, tokens: map[id.Token]bool{"BTC": true, "ETH": true}, eta: 4 * time.Hour},
}

const defaultFiatRate = 0.02 // 2%

// FiatFeePolicy prices off-ramp withdrawals by provider rate for the token,
// defaulting to 2% when no provider supports it.
type FiatFeePolicy struct{}

func (FiatFeePolicy) Quote(amount float64, token id.Token, _ string) models.FeeQuote {
	rate := defaultFiatRate
	eta := 24 * time.Hour
	for _, p := range fiatProviders {
		if p.tokens[token] {
			rate = p.rate
			eta = p.eta
			break
		}
	}
	bridge := amount * rate
	return models.FeeQuote{
		BridgeFee: bridge,
		TotalFee:  bridge,
		NetAmount: amount - bridge,
		ETA:       eta,
	}
}

// InternalFeePolicy prices ledger-to-ledger transfers: free and immediate.
type InternalFeePolicy struct{}

func (InternalFeePolicy) Quote(amount float64, _ id.Token, _ string) models.FeeQuote {
	return models.FeeQuote{NetAmount: amount}
}

func defaultFeePolicies() map[id.WithdrawalKind]FeePolicy {
	return map[id.WithdrawalKind]FeePolicy{
		id.WithdrawalWallet:   WalletFeePolicy{},
		id.WithdrawalFiat:     FiatFeePolicy{},
		id.WithdrawalInternal: InternalFeePolicy{},
	}
}
