package submit

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/R3E-Network/miniapp-games/internal/chain"
)

// Wallet signs and broadcasts transactions for one account. When
// SendTransaction fails after signing, it returns the signed hash with the
// error: the transaction may have reached the network anyway.
type Wallet interface {
	Address() common.Address
	SendTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error)
}

// KeyedWallet signs legacy transactions with a local private key. It never
// estimates gas: the caller supplies the ceiling.
type KeyedWallet struct {
	backend chain.TxBackend
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer

	mu sync.Mutex
}

// NewKeyedWallet parses a hex private key (with or without 0x).
func NewKeyedWallet(backend chain.TxBackend, hexKey string, chainID uint64) (*KeyedWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeyedWallet{
		backend: backend,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)),
	}, nil
}

func (w *KeyedWallet) Address() common.Address {
	return w.address
}

// SendTransaction signs and broadcasts a call to to. Sends are serialized so
// that pending nonces are not reused.
func (w *KeyedWallet) SendTransaction(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, w.signer, w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return signed.Hash(), fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash(), nil
}
