package dht

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	libp2precord "github.com/libp2p/go-libp2p-record"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"

	pkgerrors "github.com/swarmml/swarm/pkg/errors"
)

const (
	defaultListenAddr = "/ip4/0.0.0.0/tcp/0"
	dhtNamespace      = "swarm"
	dhtProtocolPrefix = "/swarm/kad/1.0.0"
)

var ErrPeerConfigIsNil = errors.New("peer configuration is nil")

// PeerConfig includes single peer configuration values.
type PeerConfig struct {
	PrivateKey     crypto.PrivKey  // node identity; derives the peer ID
	ListenAddr     string          // libp2p multiaddress to listen on
	BootstrapPeers []peer.AddrInfo // seed peers to connect to
}

// Peer is a single node in the swarm network. It wraps a libp2p host
// plus a Kademlia DHT and exposes the DHT records as a Store.
type Peer struct {
	host   host.Host
	dht    *kaddht.IpfsDHT
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewPeer constructs a swarm peer with the given configuration. If no
// listen address is provided the node listens on "/ip4/0.0.0.0/tcp/0".
func NewPeer(ctx context.Context, conf *PeerConfig, clock clockwork.Clock, logger *slog.Logger, prom prometheus.Registerer) (*Peer, error) {
	if conf == nil {
		return nil, ErrPeerConfigIsNil
	}
	if conf.PrivateKey == nil {
		return nil, errors.New("missing peer identity key")
	}

	addr := defaultListenAddr
	if conf.ListenAddr != "" {
		addr = conf.ListenAddr
	}

	var kdht *kaddht.IpfsDHT
	opts := []libp2p.Option{
		libp2p.ListenAddrStrings(addr),
		libp2p.Identity(conf.PrivateKey),
		// Let this host use the DHT to find other hosts.
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			kdht, err = newDHT(ctx, h, conf.BootstrapPeers)

			return kdht, err
		}),
		libp2p.Ping(true),
	}
	if prom != nil {
		opts = append(opts, libp2p.PrometheusRegisterer(prom))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	if err := kdht.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("bootstrapping DHT: %w", err)
	}
	logger.DebugContext(ctx, "peer started",
		slog.String("peer_id", h.ID().String()),
		slog.Any("addresses", h.Addrs()),
		slog.Int("bootstrap_peers", len(conf.BootstrapPeers)))

	return &Peer{host: h, dht: kdht, clock: clock, logger: logger}, nil
}

// ID returns the identifier associated with this peer.
func (p *Peer) ID() peer.ID {
	return p.host.ID()
}

// Probe refreshes the peer's view of the network. Called purely for its
// liveness side effect before each control-loop iteration.
func (p *Peer) Probe(ctx context.Context) {
	addrs := p.host.Addrs()
	p.logger.DebugContext(ctx, "probed network",
		slog.Int("addresses", len(addrs)),
		slog.Int("routing_table_size", p.dht.RoutingTable().Size()))
}

// VisibleAddrs returns the multiaddresses this peer announces.
func (p *Peer) VisibleAddrs() []ma.Multiaddr {
	return p.host.Addrs()
}

// Close shuts down the DHT and the libp2p host.
func (p *Peer) Close() error {
	var err error
	if cerr := p.dht.Close(); cerr != nil {
		err = fmt.Errorf("closing the DHT: %w", cerr)
	}
	if cerr := p.host.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("closing the host: %w", cerr))
	}

	return err
}

// storedRecord is the wire shape of one DHT record: the subkey-less
// entry plus the mapping of subkey entries.
type storedRecord struct {
	Plain *Entry           `cbor:"1,keyasint,omitempty"`
	Subs  map[string]Entry `cbor:"2,keyasint,omitempty"`
}

func dhtKey(key string) string {
	return "/" + dhtNamespace + "/" + key
}

func (p *Peer) Get(ctx context.Context, key string) (map[string]Entry, error) {
	if key == "" {
		return nil, pkgerrors.ErrEmptyKey
	}

	rec, err := p.fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now()
	out := make(map[string]Entry, len(rec.Subs))
	for sub, entry := range rec.Subs {
		if entry.Expired(now) {
			continue
		}
		out[sub] = entry
	}
	if len(out) == 0 {
		return nil, pkgerrors.ErrNotFound
	}

	return out, nil
}

func (p *Peer) GetValue(ctx context.Context, key string) (Entry, error) {
	if key == "" {
		return Entry{}, pkgerrors.ErrEmptyKey
	}

	rec, err := p.fetch(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	if rec.Plain == nil || rec.Plain.Expired(p.clock.Now()) {
		return Entry{}, pkgerrors.ErrNotFound
	}

	return *rec.Plain, nil
}

// Put merges (key, subkey, value) into the DHT record for key. The
// merge is read-modify-write: correctness under concurrent writers
// relies on the swarm key scheme namespacing writes by node or by
// round/stage.
func (p *Peer) Put(ctx context.Context, key, subkey string, value any, expiration time.Time) error {
	if key == "" {
		return pkgerrors.ErrEmptyKey
	}

	entry, err := NewEntry(value, expiration)
	if err != nil {
		return err
	}

	rec, err := p.fetch(ctx, key)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		rec = storedRecord{}
	case err != nil:
		return err
	}

	if subkey == "" {
		rec.Plain = &entry
	} else {
		if rec.Subs == nil {
			rec.Subs = make(map[string]Entry)
		}
		rec.Subs[subkey] = entry
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := p.dht.PutValue(ctx, dhtKey(key), data); err != nil {
		return errors.Join(pkgerrors.ErrStoreUnavailable, err)
	}

	return nil
}

func (p *Peer) fetch(ctx context.Context, key string) (storedRecord, error) {
	data, err := p.dht.GetValue(ctx, dhtKey(key))
	switch {
	case errors.Is(err, routing.ErrNotFound):
		return storedRecord{}, pkgerrors.ErrNotFound
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return storedRecord{}, err
	case err != nil:
		return storedRecord{}, errors.Join(pkgerrors.ErrStoreUnavailable, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return storedRecord{}, fmt.Errorf("malformed record for key %q: %w", key, err)
	}

	return rec, nil
}

func encodeRecord(rec storedRecord) ([]byte, error) {
	return cbor.Marshal(rec)
}

func decodeRecord(data []byte) (storedRecord, error) {
	var rec storedRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return storedRecord{}, err
	}

	return rec, nil
}

func newDHT(ctx context.Context, h host.Host, bootstrapPeers []peer.AddrInfo) (*kaddht.IpfsDHT, error) {
	kdht, err := kaddht.New(h,
		kaddht.ProtocolPrefix(dhtProtocolPrefix),
		kaddht.BootstrapPeers(bootstrapPeers...),
		kaddht.Mode(kaddht.ModeServer),
		kaddht.NamespacedValidator(dhtNamespace, entryValidator{}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating DHT: %w", err)
	}

	return kdht, nil
}

// entryValidator accepts any decodable record and, among conflicting
// values, selects the one with the furthest-out expiration.
type entryValidator struct{}

var _ libp2precord.Validator = entryValidator{}

func (entryValidator) Validate(_ string, value []byte) error {
	_, err := decodeRecord(value)

	return err
}

func (entryValidator) Select(_ string, values [][]byte) (int, error) {
	best, bestIdx := time.Time{}, -1
	for i, value := range values {
		rec, err := decodeRecord(value)
		if err != nil {
			continue
		}
		exp := latestExpiration(rec)
		if bestIdx == -1 || exp.After(best) {
			best, bestIdx = exp, i
		}
	}
	if bestIdx == -1 {
		return 0, errors.New("no valid records")
	}

	return bestIdx, nil
}

func latestExpiration(rec storedRecord) time.Time {
	var latest time.Time
	if rec.Plain != nil {
		latest = rec.Plain.Expiration
	}
	for _, entry := range rec.Subs {
		if entry.Expiration.After(latest) {
			latest = entry.Expiration
		}
	}

	return latest
}
