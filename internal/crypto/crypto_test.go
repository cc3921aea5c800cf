package crypto

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known development key (hardhat account #0).
const (
	devKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestKeyFileRoundTrip(t *testing.T) {
	data, err := EncryptKeyWithIterations("0x"+devKey, "hunter2", 2_000)
	require.NoError(t, err)

	addr, err := KeyFileAddress(data)
	require.NoError(t, err)
	assert.Equal(t, devAddress, addr)

	got, err := DecryptKey(data, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, devKey, got)

	_, err = DecryptKey(data, "wrong")
	require.ErrorIs(t, err, ErrWrongPassword)
}

func TestEncryptKeyRejects(t *testing.T) {
	_, err := EncryptKeyWithIterations(devKey, "", 2_000)
	require.Error(t, err)
	_, err = EncryptKeyWithIterations(devKey, "pw", 10)
	require.Error(t, err)
	_, err = EncryptKeyWithIterations("zz", "pw", 2_000)
	require.Error(t, err)
}

func TestLoadKeyFromFile(t *testing.T) {
	data, err := EncryptKeyWithIterations(devKey, "pw", 2_000)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, WriteKeyFile(path, data))
	require.Error(t, WriteKeyFile(path, data), "must not overwrite")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(devAddress), s.Address())

	raw, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + devKey, EncryptedKeyPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, devKey, raw)

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}

func TestSignerSignTxRecoversSender(t *testing.T) {
	s, err := NewSigner(devKey)
	require.NoError(t, err)

	chainID := big.NewInt(31337)
	to := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     7,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       50_000,
		To:        &to,
		Data:      []byte{0x01},
	})
	signed, err := s.SignTx(context.Background(), tx, chainID)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}

func TestSignMessageRecovers(t *testing.T) {
	s, err := NewSigner(devKey)
	require.NoError(t, err)
	msg := []byte("predictstake login")
	sig, err := s.SignMessage(msg)
	require.NoError(t, err)

	addr, err := RecoverMessageSigner(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other, err := RecoverMessageSigner([]byte("other"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}
