package core

import (
	"errors"
	"testing"

	"swapvault/config"
	"swapvault/core/events"
	"swapvault/core/state"
	"swapvault/crypto"
	"swapvault/native/escrow"
	"swapvault/storage"
)

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func ident(fill byte) [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = fill
	}
	return id
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	return NewNode(storage.NewMemDB(), nil)
}

// setupMarket registers two assets and funds maker and taker with tokens and
// the native units their storage bonds need.
func setupMarket(t *testing.T, n *Node, maker, taker [32]byte) (mintX, mintY [32]byte) {
	t.Helper()
	var err error
	mintX, err = n.TokenRegister("XAU", "Gold", 6)
	if err != nil {
		t.Fatalf("register XAU: %v", err)
	}
	mintY, err = n.TokenRegister("USD", "Dollar", 2)
	if err != nil {
		t.Fatalf("register USD: %v", err)
	}
	if err := n.NativeFund(maker, 100_000); err != nil {
		t.Fatalf("fund maker native: %v", err)
	}
	if err := n.NativeFund(taker, 100_000); err != nil {
		t.Fatalf("fund taker native: %v", err)
	}
	if err := n.TokenFund(maker, mintX, 1_000); err != nil {
		t.Fatalf("fund maker tokens: %v", err)
	}
	if err := n.TokenFund(taker, mintY, 1_000); err != nil {
		t.Fatalf("fund taker tokens: %v", err)
	}
	return mintX, mintY
}

func TestNodeOpenFulfillRoundTrip(t *testing.T) {
	n := newTestNode(t)
	emitter := &recordingEmitter{}
	n.SetEmitter(emitter)
	maker := ident(0x01)
	taker := ident(0x02)
	mintX, mintY := setupMarket(t, n, maker, taker)

	record, err := n.EscrowOpen(maker, 1, mintX, mintY, 100, 50)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if balance, _ := n.Balance(maker, mintX); balance != 900 {
		t.Fatalf("maker X after open = %d, want 900", balance)
	}
	esc, ok := n.EscrowGet(record)
	if !ok {
		t.Fatal("record not found after open")
	}
	if esc.Receive != 50 || esc.Maker != maker {
		t.Fatalf("stored record = %+v", esc)
	}

	if err := n.EscrowFulfill(record, taker, maker, mintX, mintY); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if balance, _ := n.Balance(taker, mintX); balance != 100 {
		t.Fatalf("taker X = %d, want 100", balance)
	}
	if balance, _ := n.Balance(maker, mintY); balance != 50 {
		t.Fatalf("maker Y = %d, want 50", balance)
	}
	if _, ok := n.EscrowGet(record); ok {
		t.Fatal("record must be destroyed after fulfill")
	}
	if len(emitter.events) != 2 {
		t.Fatalf("emitted %d events, want 2", len(emitter.events))
	}
	if emitter.events[0].EventType() != escrow.EventTypeOpened {
		t.Fatalf("first event = %s", emitter.events[0].EventType())
	}
	if emitter.events[1].EventType() != escrow.EventTypeFulfilled {
		t.Fatalf("second event = %s", emitter.events[1].EventType())
	}
}

// A maker may take their own offer. The requested-asset leg pays the maker
// from the maker and must net to zero: neither supply may grow.
func TestNodeMakerFulfillsOwnEscrow(t *testing.T) {
	n := newTestNode(t)
	maker := ident(0x01)
	taker := ident(0x02)
	mintX, mintY := setupMarket(t, n, maker, taker)
	if err := n.TokenFund(maker, mintY, 1_000); err != nil {
		t.Fatalf("fund maker Y: %v", err)
	}

	record, err := n.EscrowOpen(maker, 1, mintX, mintY, 100, 50)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := n.EscrowFulfill(record, maker, maker, mintX, mintY); err != nil {
		t.Fatalf("self fulfill: %v", err)
	}

	if balance, _ := n.Balance(maker, mintX); balance != 1_000 {
		t.Fatalf("maker X = %d, want 1000", balance)
	}
	if balance, _ := n.Balance(maker, mintY); balance != 1_000 {
		t.Fatalf("maker Y = %d, want 1000", balance)
	}
	if _, ok := n.EscrowGet(record); ok {
		t.Fatal("record must be destroyed after self fulfill")
	}
}

func TestNodeCancelRestoresMaker(t *testing.T) {
	n := newTestNode(t)
	maker := ident(0x01)
	taker := ident(0x02)
	mintX, mintY := setupMarket(t, n, maker, taker)

	nativeBefore, _ := n.NativeBalance(maker)
	record, err := n.EscrowOpen(maker, 7, mintX, mintY, 250, 10)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := n.EscrowCancel(record, taker); !errors.Is(err, escrow.ErrInvalidMaker) {
		t.Fatalf("non-maker cancel: got %v", err)
	}
	if err := n.EscrowCancel(record, maker); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if balance, _ := n.Balance(maker, mintX); balance != 1_000 {
		t.Fatalf("maker X after cancel = %d, want 1000", balance)
	}
	if nativeAfter, _ := n.NativeBalance(maker); nativeAfter != nativeBefore {
		t.Fatalf("storage bonds not fully refunded: before %d after %d", nativeBefore, nativeAfter)
	}
	if _, ok := n.EscrowGet(record); ok {
		t.Fatal("record must be destroyed after cancel")
	}
}

// A failed operation must leave the database byte-for-byte untouched: no
// partial transfers, no bond charges, no events.
func TestNodeFailedOperationRollsBack(t *testing.T) {
	n := newTestNode(t)
	emitter := &recordingEmitter{}
	n.SetEmitter(emitter)
	maker := ident(0x01)
	taker := ident(0x02)
	mintX, mintY := setupMarket(t, n, maker, taker)

	record, err := n.EscrowOpen(maker, 1, mintX, mintY, 100, 5_000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	openedEvents := len(emitter.events)
	takerY, _ := n.Balance(taker, mintY)
	takerNative, _ := n.NativeBalance(taker)
	makerY, _ := n.Balance(maker, mintY)

	// Taker holds 1000 Y but the record demands 5000; the first settlement
	// leg fails after the maker's Y account was provisioned in the overlay.
	err = n.EscrowFulfill(record, taker, maker, mintX, mintY)
	if !errors.Is(err, state.ErrInsufficientBalance) {
		t.Fatalf("fulfill: got %v", err)
	}

	if balance, _ := n.Balance(taker, mintY); balance != takerY {
		t.Fatalf("taker Y changed: %d != %d", balance, takerY)
	}
	if balance, _ := n.NativeBalance(taker); balance != takerNative {
		t.Fatalf("taker native changed: %d != %d", balance, takerNative)
	}
	if balance, _ := n.Balance(maker, mintY); balance != makerY {
		t.Fatalf("maker Y changed: %d != %d", balance, makerY)
	}
	if esc, ok := n.EscrowGet(record); !ok || esc.Receive != 5_000 {
		t.Fatal("record must survive a failed fulfill")
	}
	if len(emitter.events) != openedEvents {
		t.Fatalf("failed operation emitted events: %d != %d", len(emitter.events), openedEvents)
	}

	// The escrow is still live: the maker can cancel it.
	if err := n.EscrowCancel(record, maker); err != nil {
		t.Fatalf("cancel after failed fulfill: %v", err)
	}
}

func TestNodeRejectsZeroAmounts(t *testing.T) {
	n := newTestNode(t)
	maker := ident(0x01)
	taker := ident(0x02)
	mintX, mintY := setupMarket(t, n, maker, taker)

	if _, err := n.EscrowOpen(maker, 1, mintX, mintY, 0, 50); !errors.Is(err, escrow.ErrInvalidAmount) {
		t.Fatalf("zero offered: got %v", err)
	}
	if _, err := n.EscrowOpen(maker, 1, mintX, mintY, 100, 0); !errors.Is(err, escrow.ErrInvalidAmount) {
		t.Fatalf("zero requested: got %v", err)
	}
}

func TestNodeBootstrapIsIdempotent(t *testing.T) {
	n := newTestNode(t)
	addr := ident(0x05)
	encoded, err := crypto.EncodeIdentity(addr)
	if err != nil {
		t.Fatalf("encode identity: %v", err)
	}
	cfg := &config.Config{
		Tokens: []config.TokenConfig{
			{Symbol: "XAU", Name: "Gold", Decimals: 6},
		},
		Allocations: []config.Allocation{
			{Address: encoded, Native: 9_000, Balances: map[string]uint64{"XAU": 400}},
		},
	}

	if err := n.Bootstrap(cfg); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := n.Bootstrap(cfg); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}

	list, err := n.TokenList()
	if err != nil {
		t.Fatalf("token list: %v", err)
	}
	if len(list) != 1 || list[0] != "XAU" {
		t.Fatalf("token list = %v", list)
	}
	if balance, _ := n.Balance(addr, state.TokenID("XAU")); balance != 400 {
		t.Fatalf("allocated balance = %d, want 400", balance)
	}
	native, _ := n.NativeBalance(addr)
	if native != 9_000-state.AccountDeposit {
		t.Fatalf("native = %d, want %d", native, 9_000-state.AccountDeposit)
	}
}

func TestNodeBootstrapRejectsUnknownToken(t *testing.T) {
	n := newTestNode(t)
	addr, err := crypto.EncodeIdentity(ident(0x05))
	if err != nil {
		t.Fatalf("encode identity: %v", err)
	}
	cfg := &config.Config{
		Allocations: []config.Allocation{
			{Address: addr, Balances: map[string]uint64{"USD": 1}},
		},
	}
	if err := n.Bootstrap(cfg); err == nil {
		t.Fatal("allocation against unregistered token must fail")
	}
	// The failed bootstrap must not leave the genesis marker behind.
	if list, _ := n.TokenList(); len(list) != 0 {
		t.Fatalf("token list after failed bootstrap = %v", list)
	}
}
