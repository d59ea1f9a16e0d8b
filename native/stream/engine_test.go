package stream

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"vaultdca/core/events"
)

type mockState struct {
	streams map[uuid.UUID]*Stream
}

func newMockState() *mockState {
	return &mockState{streams: make(map[uuid.UUID]*Stream)}
}

func (m *mockState) StreamGet(id uuid.UUID) (*Stream, error) {
	s, ok := m.streams[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *mockState) StreamPut(s *Stream) error {
	m.streams[s.ID] = s.Clone()
	return nil
}

func (m *mockState) StreamDelete(id uuid.UUID) error {
	delete(m.streams, id)
	return nil
}

type testClock struct {
	now int64
}

func (c *testClock) advance(seconds int64) { c.now += seconds }

func addr(suffix byte) [20]byte {
	var a [20]byte
	a[19] = suffix
	return a
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *testClock) {
	t.Helper()
	state := newMockState()
	clock := &testClock{now: 1_700_000_000}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return clock.now })
	return engine, state, clock
}

func TestLinearVestingMidpoint(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	total := big.NewInt(1_000_000)

	s, err := engine.Create(addr(0x01), addr(0x02), total, 0, clock.now+1000)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.StartTime != clock.now {
		t.Fatalf("zero start must snap to now, got %d", s.StartTime)
	}

	// Nothing vested at the start boundary.
	if _, err := engine.Claim(addr(0x02), s.ID); !errors.Is(err, ErrNothingVested) {
		t.Fatalf("claim at start: %v", err)
	}

	clock.advance(500)
	claimed, err := engine.Claim(addr(0x02), s.ID)
	if err != nil {
		t.Fatalf("claim at midpoint: %v", err)
	}
	if claimed.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("midpoint claim: got %s want 500000", claimed)
	}

	// Claiming again without time passing pays nothing.
	if _, err := engine.Claim(addr(0x02), s.ID); !errors.Is(err, ErrNothingVested) {
		t.Fatalf("repeat claim: %v", err)
	}

	clock.advance(2000)
	claimed, err = engine.Claim(addr(0x02), s.ID)
	if err != nil {
		t.Fatalf("claim after end: %v", err)
	}
	if claimed.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("final claim: got %s want 500000", claimed)
	}

	// The drained stream is gone.
	if _, err := engine.StreamOf(s.ID); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("drained stream lookup: %v", err)
	}
}

func TestCancelSplitsVestedAndUnvested(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	total := big.NewInt(900)

	s, err := engine.Create(addr(0x01), addr(0x02), total, clock.now, clock.now+900)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.advance(300)
	unvested, err := engine.Cancel(addr(0x01), s.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if unvested.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unvested: got %s want 600", unvested)
	}

	// Vesting is frozen at the cancellation point; the recipient keeps the
	// vested third regardless of how much time passes.
	clock.advance(10_000)
	claimed, err := engine.Claim(addr(0x02), s.ID)
	if err != nil {
		t.Fatalf("claim after cancel: %v", err)
	}
	if claimed.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("vested claim: got %s want 300", claimed)
	}
	if _, err := engine.StreamOf(s.ID); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("settled stream lookup: %v", err)
	}
}

func TestCancelAfterFullClaimRemovesStream(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	s, err := engine.Create(addr(0x01), addr(0x02), big.NewInt(100), clock.now, clock.now+100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.advance(40)
	if _, err := engine.Claim(addr(0x02), s.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	unvested, err := engine.Cancel(addr(0x01), s.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if unvested.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unvested: got %s want 60", unvested)
	}
	// The recipient had already drained everything vested, so the stream was
	// removed outright.
	if _, err := engine.StreamOf(s.ID); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := engine.Cancel(addr(0x01), s.ID); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("double cancel: %v", err)
	}
}

func TestStreamGuards(t *testing.T) {
	engine, _, clock := newTestEngine(t)

	if _, err := engine.Create(addr(0x01), addr(0x02), big.NewInt(0), 0, clock.now+100); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero shares: %v", err)
	}
	if _, err := engine.Create(addr(0x01), addr(0x01), big.NewInt(1), 0, clock.now+100); !errors.Is(err, ErrSameParty) {
		t.Fatalf("self stream: %v", err)
	}
	if _, err := engine.Create(addr(0x01), addr(0x02), big.NewInt(1), clock.now+100, clock.now+100); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("empty window: %v", err)
	}

	s, err := engine.Create(addr(0x01), addr(0x02), big.NewInt(100), clock.now, clock.now+100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.advance(50)
	if _, err := engine.Claim(addr(0x03), s.ID); !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("stranger claim: %v", err)
	}
	if _, err := engine.Cancel(addr(0x02), s.ID); !errors.Is(err, ErrNotSender) {
		t.Fatalf("recipient cancel: %v", err)
	}
	if _, err := engine.Cancel(addr(0x01), s.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := engine.Cancel(addr(0x01), s.ID); !errors.Is(err, ErrCancelled) {
		t.Fatalf("double cancel: %v", err)
	}
}

func TestStreamEventsEmitted(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	collector := &events.Collector{}
	engine.SetEmitter(collector)

	s, err := engine.Create(addr(0x01), addr(0x02), big.NewInt(100), clock.now, clock.now+100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clock.advance(200)
	if _, err := engine.Claim(addr(0x02), s.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if len(collector.Events) != 2 {
		t.Fatalf("events: got %d want 2", len(collector.Events))
	}
	if got := collector.Events[0].EventType(); got != EventTypeCreated {
		t.Fatalf("first event: %s", got)
	}
	if got := collector.Events[1].EventType(); got != EventTypeClaimed {
		t.Fatalf("second event: %s", got)
	}
}
