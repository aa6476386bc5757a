package host

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	ErrInvalidSignature = errors.New("signature verification failed")
	ErrMissingSigner    = errors.New("signer is not an account of the instruction")
)

// Instruction is the unit a caller signs: program instruction data followed
// by the keys of the accounts it touches, in instruction order.
type Instruction struct {
	Data     []byte
	Accounts []solana.PublicKey
}

// Discriminator returns the 8-byte instruction tag, sha256("global:<name>")[:8].
func Discriminator(name string) []byte {
	id := bin.SighashTypeID(bin.SIGHASH_GLOBAL_NAMESPACE, name)

	return id[:]
}

func (ix Instruction) Message() []byte {
	message := make([]byte, 0, len(ix.Data)+len(ix.Accounts)*solana.PublicKeyLength)
	message = append(message, ix.Data...)

	for _, account := range ix.Accounts {
		message = append(message, account[:]...)
	}

	return message
}

func (ix Instruction) Sign(key solana.PrivateKey) (solana.Signature, error) {
	signature, err := key.Sign(ix.Message())
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign instruction: %w", err)
	}

	return signature, nil
}

// VerifySigner checks that signer is one of the instruction accounts and that
// signature covers the instruction message.
func (ix Instruction) VerifySigner(signer solana.PublicKey, signature solana.Signature) error {
	found := false

	for _, account := range ix.Accounts {
		if account.Equals(signer) {
			found = true

			break
		}
	}

	if !found {
		return fmt.Errorf("%w: %s", ErrMissingSigner, signer)
	}

	if !signature.Verify(signer, ix.Message()) {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, signer)
	}

	return nil
}
