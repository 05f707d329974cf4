// Package dht is the adapter between the swarm and the distributed
// key-value store used as the sole cross-node coordination channel.
//
// Every stored value is an Entry: a CBOR-encoded payload plus an
// expiration time. Entries written under the same key but different
// subkeys are merged into a subkey-to-entry mapping on read; entries
// written without a subkey overwrite the whole key. Expired entries are
// invisible to readers. Callers must not rely on a value surviving past
// its expiration time.
package dht

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Store is the contract every shared-store backend satisfies.
//
// Transient transport failures are reported wrapped around
// errors.ErrStoreUnavailable and are retryable by the caller. A missing
// key is reported as errors.ErrNotFound, never as a transport failure.
type Store interface {
	// Get returns the full mapping of unexpired subkeys under key.
	Get(ctx context.Context, key string) (map[string]Entry, error)

	// GetValue returns the subkey-less entry stored under key.
	GetValue(ctx context.Context, key string) (Entry, error)

	// Put stores value under (key, subkey) until expiration. A write
	// with a subkey never clobbers sibling subkeys under the same key;
	// a write with an empty subkey replaces the whole key.
	Put(ctx context.Context, key, subkey string, value any, expiration time.Time) error
}

// Entry is a single stored value with its expiration time.
type Entry struct {
	Value      []byte    `cbor:"1,keyasint"`
	Expiration time.Time `cbor:"2,keyasint"`
}

func NewEntry(value any, expiration time.Time) (Entry, error) {
	data, err := cbor.Marshal(value)
	if err != nil {
		return Entry{}, err
	}

	return Entry{Value: data, Expiration: expiration}, nil
}

func (e Entry) Decode(out any) error {
	return cbor.Unmarshal(e.Value, out)
}

func (e Entry) Expired(now time.Time) bool {
	return !e.Expiration.After(now)
}
