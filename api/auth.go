package api

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const clobAuthMessage = "This message attests that I control the given wallet"

// Auth holds the operator wallet key used for CLOB L1 authentication and
// order signing.
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
}

// NewAuth loads the wallet key from POLYMARKET_PRIVATE_KEY.
func NewAuth() (*Auth, error) {
	raw := strings.TrimSpace(os.Getenv("POLYMARKET_PRIVATE_KEY"))
	if raw == "" {
		return nil, fmt.Errorf("POLYMARKET_PRIVATE_KEY not set")
	}
	raw = strings.TrimPrefix(raw, "0x")

	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &Auth{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    137, // Polygon mainnet
	}, nil
}

// GetAddress returns the signer wallet address.
func (a *Auth) GetAddress() common.Address {
	return a.address
}

// GetPrivateKey returns the private key (needed for order signing).
func (a *Auth) GetPrivateKey() *ecdsa.PrivateKey {
	return a.privateKey
}

// SignRequest produces the L1 authentication headers for key-management
// endpoints. The signature is an EIP-712 ClobAuth attestation over the
// current timestamp.
func (a *Auth) SignRequest() (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := int64(0)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": []apitypes.Type{
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		PrimaryType: "ClobAuth",
		Domain: apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: math.NewHexOrDecimal256(a.chainID),
		},
		Message: map[string]interface{}{
			"address":   a.address.Hex(),
			"timestamp": timestamp,
			"nonce":     big.NewInt(nonce),
			"message":   clobAuthMessage,
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash auth payload: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign auth payload: %w", err)
	}
	sig[64] += 27

	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": "0x" + common.Bytes2Hex(sig),
		"POLY_TIMESTAMP": timestamp,
		"POLY_NONCE":     strconv.FormatInt(nonce, 10),
	}, nil
}
