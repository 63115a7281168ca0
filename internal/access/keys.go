package access

import (
	"fmt"
	"os"

	natsjwt "github.com/nats-io/jwt/v2"
	"github.com/nats-io/nkeys"
)

// LoadAccountClaims reads and decodes an account JWT file.
func LoadAccountClaims(path string) (*natsjwt.AccountClaims, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("access: read account file: %w", err)
	}
	acc, err := natsjwt.DecodeAccountClaims(string(contents))
	if err != nil {
		return nil, fmt.Errorf("access: decode account claims: %w", err)
	}
	return acc, nil
}

// LoadSigningKey reads an nkey seed file into a key pair.
func LoadSigningKey(path string) (nkeys.KeyPair, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("access: read signing key file: %w", err)
	}
	kp, err := nkeys.FromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("access: decode signing key: %w", err)
	}
	return kp, nil
}
