package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// Signer signs ledger transactions with a local secp256k1 key. It never
// declines; interactive signers report a decline as domain.ErrUserRejected.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// LoadSigner resolves the key described by cfg and wraps it in a Signer.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	keyHex, err := LoadKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyHex)
}

// Address returns the account the signer acts for.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx signs tx for chainID with the latest signer rules.
func (s *Signer) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: sign tx: %w: %w", domain.ErrSigningFailed, err)
	}
	return signed, nil
}

// SignMessage produces an EIP-191 personal_sign signature over msg, with the
// recovery id in the 27/28 form wallets expect.
func (s *Signer) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign message: %w: %w", domain.ErrSigningFailed, err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// RecoverMessageSigner returns the address that produced a SignMessage
// signature over msg.
func RecoverMessageSigner(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature length %d", len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
