package service

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	id "redpocket/pkg/domain"
)

// WalletAddressDeriver computes the deterministic wallet address bound to a
// platform identity. The derivation must be a pure function of
// (platform, platformId) and fixed factory parameters: repeated calls always
// yield the same address, independent of on-chain deployment state.
type WalletAddressDeriver interface {
	Derive(platform id.Platform, platformID string) (string, error)
}

// CounterfactualDeriver computes the CREATE2 counterfactual address of the
// per-identity smart wallet: the address the factory contract would deploy
// to, whether or not deployment has happened yet.
//
// salt = keccak256(platform || ":" || platformId)
// addr = keccak256(0xff || factory || salt || initCodeHash)[12:]
type CounterfactualDeriver struct {
	factory      common.Address
	initCodeHash []byte
}

// NewCounterfactualDeriver builds a deriver from the factory address and the
// wallet init code hash, both hex-encoded.
func NewCounterfactualDeriver(factoryHex, initCodeHashHex string) (*CounterfactualDeriver, error) {
	if !common.IsHexAddress(factoryHex) {
		return nil, fmt.Errorf("invalid factory address: %s", factoryHex)
	}
	hash, err := hex.DecodeString(trim0x(initCodeHashHex))
	if err != nil {
		return nil, fmt.Errorf("invalid init code hash: %w", err)
	}
	if len(hash) != 32 {
		return nil, fmt.Errorf("init code hash must be 32 bytes, got %d", len(hash))
	}
	return &CounterfactualDeriver{
		factory:      common.HexToAddress(factoryHex),
		initCodeHash: hash,
	}, nil
}

func (d *CounterfactualDeriver) Derive(platform id.Platform, platformID string) (string, error) {
	if platformID == "" {
		return "", fmt.Errorf("platform id cannot be empty")
	}
	var salt [32]byte
	copy(salt[:], crypto.Keccak256([]byte(platform.String()+":"+platformID)))
	addr := crypto.CreateAddress2(d.factory, salt, d.initCodeHash)
	return addr.Hex(), nil
}

func trim0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
