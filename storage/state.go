package storage

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"

	"vaultdca/native/dca"
	"vaultdca/native/stream"
	"vaultdca/native/yieldstream"
)

// State persists engine ledgers in a key-value database using RLP. One State
// carries one namespace, so several engine instances can share a database
// without key collisions. It satisfies the state interfaces of the dca,
// stream and yieldstream engines.
type State struct {
	db Database
	ns string
}

// NewState wraps the database under the given namespace. An empty namespace
// defaults to "default".
func NewState(db Database, namespace string) *State {
	if namespace == "" {
		namespace = "default"
	}
	return &State{db: db, ns: namespace}
}

// RLP cannot encode signed integers, so stored records carry timestamps as
// uint64 and convert at the boundary.

type storedGlobal struct {
	CurrentEpoch      uint64
	EpochStartTime    uint64
	EpochInterval     uint64
	TotalPrincipal    *big.Int
	TotalShares       *big.Int
	TokenBalance      *big.Int
	PendingAllocation *big.Int
}

type storedPosition struct {
	Owner           [20]byte
	PrincipalShares *big.Int
	PrincipalAssets *big.Int
	CheckpointEpoch uint64
	SettledTokens   *big.Int
}

type storedEpoch struct {
	Epoch             uint64
	TotalPrincipal    *big.Int
	YieldConverted    *big.Int
	SharesRedeemed    *big.Int
	TokensBought      *big.Int
	ConversionRateWad *big.Int
	SharePriceWad     *big.Int
	ExecutedAt        uint64
}

type storedTally struct {
	Epoch            uint64
	PrincipalSettled *big.Int
	TokensAttributed *big.Int
	Closed           bool
}

type storedStream struct {
	ID            [16]byte
	Sender        [20]byte
	Recipient     [20]byte
	TotalShares   *big.Int
	ClaimedShares *big.Int
	StartTime     uint64
	EndTime       uint64
	CancelledAt   uint64
}

type storedYieldStream struct {
	Streamer        [20]byte
	Receiver        [20]byte
	PrincipalShares *big.Int
	PrincipalAssets *big.Int
}

func (s *State) key(suffix string, extra ...[]byte) []byte {
	key := append([]byte(s.ns), '/')
	key = append(key, suffix...)
	for _, part := range extra {
		key = append(key, part...)
	}
	return key
}

func epochBytes(epoch uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], epoch)
	return buf[:]
}

func (s *State) load(key []byte, out interface{}) (bool, error) {
	ok, err := s.db.Has(key)
	if err != nil || !ok {
		return false, err
	}
	raw, err := s.db.Get(key)
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *State) store(key []byte, in interface{}) error {
	raw, err := rlp.EncodeToBytes(in)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return s.db.Put(key, raw)
}

// --- dca engine state ---

// GlobalGet loads the ledger head, or nil when the namespace is untouched.
func (s *State) GlobalGet() (*dca.GlobalState, error) {
	var rec storedGlobal
	ok, err := s.load(s.key("dca/global"), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &dca.GlobalState{
		CurrentEpoch:      rec.CurrentEpoch,
		EpochStartTime:    int64(rec.EpochStartTime),
		EpochInterval:     int64(rec.EpochInterval),
		TotalPrincipal:    orZero(rec.TotalPrincipal),
		TotalShares:       orZero(rec.TotalShares),
		TokenBalance:      orZero(rec.TokenBalance),
		PendingAllocation: orZero(rec.PendingAllocation),
	}, nil
}

// GlobalPut persists the ledger head.
func (s *State) GlobalPut(g *dca.GlobalState) error {
	return s.store(s.key("dca/global"), &storedGlobal{
		CurrentEpoch:      g.CurrentEpoch,
		EpochStartTime:    clampUint(g.EpochStartTime),
		EpochInterval:     clampUint(g.EpochInterval),
		TotalPrincipal:    orZero(g.TotalPrincipal),
		TotalShares:       orZero(g.TotalShares),
		TokenBalance:      orZero(g.TokenBalance),
		PendingAllocation: orZero(g.PendingAllocation),
	})
}

// PositionGet loads a position, or nil when the owner has none.
func (s *State) PositionGet(owner [20]byte) (*dca.Position, error) {
	var rec storedPosition
	ok, err := s.load(s.key("dca/position/", owner[:]), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &dca.Position{
		Owner:           rec.Owner,
		PrincipalShares: orZero(rec.PrincipalShares),
		PrincipalAssets: orZero(rec.PrincipalAssets),
		CheckpointEpoch: rec.CheckpointEpoch,
		SettledTokens:   orZero(rec.SettledTokens),
	}, nil
}

// PositionPut persists a position.
func (s *State) PositionPut(p *dca.Position) error {
	return s.store(s.key("dca/position/", p.Owner[:]), &storedPosition{
		Owner:           p.Owner,
		PrincipalShares: orZero(p.PrincipalShares),
		PrincipalAssets: orZero(p.PrincipalAssets),
		CheckpointEpoch: p.CheckpointEpoch,
		SettledTokens:   orZero(p.SettledTokens),
	})
}

// PositionDelete removes a fully-exited position.
func (s *State) PositionDelete(owner [20]byte) error {
	return s.db.Delete(s.key("dca/position/", owner[:]))
}

// EpochGet loads an executed epoch record, or nil when absent.
func (s *State) EpochGet(epoch uint64) (*dca.EpochRecord, error) {
	var rec storedEpoch
	ok, err := s.load(s.key("dca/epoch/", epochBytes(epoch)), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &dca.EpochRecord{
		Epoch:             rec.Epoch,
		TotalPrincipal:    orZero(rec.TotalPrincipal),
		YieldConverted:    orZero(rec.YieldConverted),
		SharesRedeemed:    orZero(rec.SharesRedeemed),
		TokensBought:      orZero(rec.TokensBought),
		ConversionRateWad: orZero(rec.ConversionRateWad),
		SharePriceWad:     orZero(rec.SharePriceWad),
		ExecutedAt:        int64(rec.ExecutedAt),
	}, nil
}

// EpochPut appends an epoch record. Records are immutable once written; the
// engine never rewrites an epoch key.
func (s *State) EpochPut(rec *dca.EpochRecord) error {
	return s.store(s.key("dca/epoch/", epochBytes(rec.Epoch)), &storedEpoch{
		Epoch:             rec.Epoch,
		TotalPrincipal:    orZero(rec.TotalPrincipal),
		YieldConverted:    orZero(rec.YieldConverted),
		SharesRedeemed:    orZero(rec.SharesRedeemed),
		TokensBought:      orZero(rec.TokensBought),
		ConversionRateWad: orZero(rec.ConversionRateWad),
		SharePriceWad:     orZero(rec.SharePriceWad),
		ExecutedAt:        clampUint(rec.ExecutedAt),
	})
}

// TallyGet loads the settlement tally for an epoch, or nil when no position
// has settled through it yet.
func (s *State) TallyGet(epoch uint64) (*dca.EpochTally, error) {
	var rec storedTally
	ok, err := s.load(s.key("dca/tally/", epochBytes(epoch)), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &dca.EpochTally{
		Epoch:            rec.Epoch,
		PrincipalSettled: orZero(rec.PrincipalSettled),
		TokensAttributed: orZero(rec.TokensAttributed),
		Closed:           rec.Closed,
	}, nil
}

// TallyPut persists a settlement tally.
func (s *State) TallyPut(t *dca.EpochTally) error {
	return s.store(s.key("dca/tally/", epochBytes(t.Epoch)), &storedTally{
		Epoch:            t.Epoch,
		PrincipalSettled: orZero(t.PrincipalSettled),
		TokensAttributed: orZero(t.TokensAttributed),
		Closed:           t.Closed,
	})
}

// --- stream engine state ---

// StreamGet loads a vesting stream, or nil when absent.
func (s *State) StreamGet(id uuid.UUID) (*stream.Stream, error) {
	var rec storedStream
	ok, err := s.load(s.key("stream/", id[:]), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &stream.Stream{
		ID:            uuid.UUID(rec.ID),
		Sender:        rec.Sender,
		Recipient:     rec.Recipient,
		TotalShares:   orZero(rec.TotalShares),
		ClaimedShares: orZero(rec.ClaimedShares),
		StartTime:     int64(rec.StartTime),
		EndTime:       int64(rec.EndTime),
		CancelledAt:   int64(rec.CancelledAt),
	}, nil
}

// StreamPut persists a vesting stream.
func (s *State) StreamPut(v *stream.Stream) error {
	return s.store(s.key("stream/", v.ID[:]), &storedStream{
		ID:            [16]byte(v.ID),
		Sender:        v.Sender,
		Recipient:     v.Recipient,
		TotalShares:   orZero(v.TotalShares),
		ClaimedShares: orZero(v.ClaimedShares),
		StartTime:     clampUint(v.StartTime),
		EndTime:       clampUint(v.EndTime),
		CancelledAt:   clampUint(v.CancelledAt),
	})
}

// StreamDelete removes a drained or settled stream.
func (s *State) StreamDelete(id uuid.UUID) error {
	return s.db.Delete(s.key("stream/", id[:]))
}

// --- yieldstream engine state ---

// YieldStreamGet loads the stream for a streamer/receiver pair, or nil.
func (s *State) YieldStreamGet(streamer, receiver [20]byte) (*yieldstream.YieldStream, error) {
	var rec storedYieldStream
	ok, err := s.load(s.key("yieldstream/", streamer[:], receiver[:]), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &yieldstream.YieldStream{
		Streamer:        rec.Streamer,
		Receiver:        rec.Receiver,
		PrincipalShares: orZero(rec.PrincipalShares),
		PrincipalAssets: orZero(rec.PrincipalAssets),
	}, nil
}

// YieldStreamPut persists a yield stream.
func (s *State) YieldStreamPut(v *yieldstream.YieldStream) error {
	return s.store(s.key("yieldstream/", v.Streamer[:], v.Receiver[:]), &storedYieldStream{
		Streamer:        v.Streamer,
		Receiver:        v.Receiver,
		PrincipalShares: orZero(v.PrincipalShares),
		PrincipalAssets: orZero(v.PrincipalAssets),
	})
}

// YieldStreamDelete removes a closed yield stream.
func (s *State) YieldStreamDelete(streamer, receiver [20]byte) error {
	return s.db.Delete(s.key("yieldstream/", streamer[:], receiver[:]))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func clampUint(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
