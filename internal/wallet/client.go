/*

This file contains the signing wallet for the PLM. The Signer interface is the
only thing the rest of the system sees; key material never leaves this package.

*/

package wallet

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/windrose-labs/plm/internal/config"
	"github.com/windrose-labs/plm/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoSigningKey      = errors.New("no signing key material provided")
	ErrInvalidPrivateKey = errors.New("private key is invalid")
	ErrSigningFailed     = errors.New("transaction signing failed")
)

var walletLogger = logger.GetForComponent("wallet_client")

// Signer signs transactions on behalf of a single public key.
type Signer interface {
	// PublicKey returns the key transactions are signed with. This is the fee
	// payer for every plan the engine submits.
	PublicKey() solana.PublicKey

	// SignTransaction signs tx in place. The transaction's message must list
	// PublicKey() as a required signer.
	SignTransaction(tx *solana.Transaction) error
}

// KeypairSigner is a Signer backed by an in-memory ed25519 keypair.
type KeypairSigner struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
}

// Compile-time interface check.
var _ Signer = (*KeypairSigner)(nil)

// NewKeypairSigner loads the signing keypair from the configuration. A base58
// private key takes precedence; otherwise the solana-keygen JSON file is read.
func NewKeypairSigner(cfg *config.Config) (*KeypairSigner, error) {
	if cfg == nil {
		return nil, errors.New("NewKeypairSigner: config is nil")
	}

	var (
		privateKey solana.PrivateKey
		err        error
		source     string
	)

	switch {
	case cfg.WalletPrivateKey != "":
		source = "environment"
		privateKey, err = solana.PrivateKeyFromBase58(cfg.WalletPrivateKey)
		if err != nil {
			return nil, errors.Join(ErrInvalidPrivateKey,
				fmt.Errorf("failed to parse WALLET_PRIVATE_KEY: %w", err))
		}
	case cfg.WalletKeypairPath != "":
		source = "keygen file"
		privateKey, err = solana.PrivateKeyFromSolanaKeygenFile(cfg.WalletKeypairPath)
		if err != nil {
			return nil, errors.Join(ErrInvalidPrivateKey,
				fmt.Errorf("failed to read keypair file %s: %w", cfg.WalletKeypairPath, err))
		}
	default:
		return nil, ErrNoSigningKey
	}

	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.Join(ErrInvalidPrivateKey,
			fmt.Errorf("private key has %d bytes, expected %d", len(privateKey), ed25519.PrivateKeySize))
	}

	signer := &KeypairSigner{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
	}

	// The managed owner and the signing wallet are usually the same account.
	// They may legitimately differ in dry-run setups, so a mismatch is only
	// surfaced, not rejected.
	if !cfg.OwnerAddress.IsZero() && !signer.publicKey.Equals(cfg.OwnerAddress) {
		walletLogger.Warn().
			Str("signingWallet", signer.publicKey.String()).
			Str("managedOwner", cfg.OwnerAddress.String()).
			Msg("NewKeypairSigner: Signing wallet differs from managed owner")
	}

	walletLogger.Info().
		Str("publicKey", signer.publicKey.String()).
		Str("source", source).
		Msg("NewKeypairSigner: Signing wallet loaded")

	return signer, nil
}

// PublicKey returns the wallet's public key.
func (s *KeypairSigner) PublicKey() solana.PublicKey {
	return s.publicKey
}

// SignTransaction signs tx with the wallet's private key.
func (s *KeypairSigner) SignTransaction(tx *solana.Transaction) error {
	if tx == nil {
		return errors.Join(ErrSigningFailed, errors.New("transaction is nil"))
	}

	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return errors.Join(ErrSigningFailed, fmt.Errorf("failed to sign transaction: %w", err))
	}
	return nil
}
