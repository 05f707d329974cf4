package dht

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

const identityFilePermissions = 0o600

// GenerateIdentity creates a fresh Ed25519 node identity and writes it
// to path. The derived peer ID is returned for display.
func GenerateIdentity(path string) (peer.ID, error) {
	priv, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generating identity key: %w", err)
	}

	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("marshaling identity key: %w", err)
	}
	if err := os.WriteFile(path, data, identityFilePermissions); err != nil {
		return "", fmt.Errorf("writing identity file: %w", err)
	}

	return peer.IDFromPublicKey(pub)
}

// LoadIdentity reads a node identity previously written by
// GenerateIdentity.
func LoadIdentity(path string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identity file %q: %w", path, err)
	}

	priv, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("invalid identity file %q: %w", path, err)
	}

	return priv, nil
}
