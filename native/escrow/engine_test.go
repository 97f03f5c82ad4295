package escrow

import (
	"errors"
	"fmt"
	"testing"

	"swapvault/core/events"
)

// Deposits charged by the mock provisioning service, in native units.
const (
	mockRecordDeposit  = 100
	mockAccountDeposit = 40
)

type accountKey struct {
	holder [32]byte
	mint   [32]byte
}

type mockAccount struct {
	authority [32]byte
	balance   uint64
	deposit   uint64
}

// mockState implements engineState with the same authority rules as the real
// ledger: custody moves require a witness that re-derives the account's
// authority.
type mockState struct {
	escrows  map[[32]byte]*Escrow
	accounts map[accountKey]*mockAccount
	native   map[[32]byte]uint64
}

func newMockState() *mockState {
	return &mockState{
		escrows:  make(map[[32]byte]*Escrow),
		accounts: make(map[accountKey]*mockAccount),
		native:   make(map[[32]byte]uint64),
	}
}

func (m *mockState) EscrowCreate(addr [32]byte, esc *Escrow, payer [32]byte) error {
	if _, ok := m.escrows[addr]; ok {
		return ErrExists
	}
	sanitized, err := SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	if err := m.nativeDebit(payer, mockRecordDeposit); err != nil {
		return err
	}
	m.escrows[addr] = sanitized
	return nil
}

func (m *mockState) EscrowGet(addr [32]byte) (*Escrow, bool) {
	esc, ok := m.escrows[addr]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

func (m *mockState) EscrowClose(addr [32]byte, dest [32]byte) error {
	if _, ok := m.escrows[addr]; !ok {
		return ErrNotFound
	}
	delete(m.escrows, addr)
	m.native[dest] += mockRecordDeposit
	return nil
}

func (m *mockState) OpenAccount(holder, mint, authority, payer [32]byte) error {
	key := accountKey{holder: holder, mint: mint}
	if _, ok := m.accounts[key]; ok {
		return fmt.Errorf("ledger: account already exists")
	}
	if err := m.nativeDebit(payer, mockAccountDeposit); err != nil {
		return err
	}
	m.accounts[key] = &mockAccount{authority: authority, deposit: mockAccountDeposit}
	return nil
}

func (m *mockState) EnsureAccount(holder, mint, payer [32]byte) error {
	if _, ok := m.accounts[accountKey{holder: holder, mint: mint}]; ok {
		return nil
	}
	return m.OpenAccount(holder, mint, holder, payer)
}

func (m *mockState) CloseAccount(holder, mint, dest [32]byte, w *Witness) error {
	key := accountKey{holder: holder, mint: mint}
	acct, ok := m.accounts[key]
	if !ok {
		return fmt.Errorf("ledger: account not found")
	}
	if !authorized(acct, holder, w) {
		return fmt.Errorf("ledger: unauthorized close")
	}
	if acct.balance != 0 {
		return fmt.Errorf("ledger: cannot close account with balance")
	}
	delete(m.accounts, key)
	m.native[dest] += acct.deposit
	return nil
}

func (m *mockState) Transfer(caller, from, to, mint [32]byte, amount uint64, w *Witness) error {
	if amount == 0 {
		return nil
	}
	fromAcct, ok := m.accounts[accountKey{holder: from, mint: mint}]
	if !ok {
		return fmt.Errorf("ledger: account not found")
	}
	if w != nil {
		if w.Address() != fromAcct.authority {
			return fmt.Errorf("ledger: witness does not match authority")
		}
	} else if caller != fromAcct.authority {
		return fmt.Errorf("ledger: unauthorized transfer")
	}
	if fromAcct.balance < amount {
		return fmt.Errorf("ledger: insufficient balance")
	}
	toAcct, ok := m.accounts[accountKey{holder: to, mint: mint}]
	if !ok {
		return fmt.Errorf("ledger: account not found")
	}
	fromAcct.balance -= amount
	toAcct.balance += amount
	return nil
}

func (m *mockState) Balance(holder, mint [32]byte) (uint64, error) {
	acct, ok := m.accounts[accountKey{holder: holder, mint: mint}]
	if !ok {
		return 0, nil
	}
	return acct.balance, nil
}

func (m *mockState) nativeDebit(addr [32]byte, amount uint64) error {
	if m.native[addr] < amount {
		return fmt.Errorf("ledger: insufficient native balance")
	}
	m.native[addr] -= amount
	return nil
}

func authorized(acct *mockAccount, holder [32]byte, w *Witness) bool {
	if w != nil {
		return w.Address() == acct.authority
	}
	return acct.authority == holder
}

// fund creates a self-authorized account for holder with the given balance.
func (m *mockState) fund(holder, mint [32]byte, balance uint64) {
	m.accounts[accountKey{holder: holder, mint: mint}] = &mockAccount{
		authority: holder,
		balance:   balance,
		deposit:   mockAccountDeposit,
	}
}

func (m *mockState) balanceOf(holder, mint [32]byte) uint64 {
	acct, ok := m.accounts[accountKey{holder: holder, mint: mint}]
	if !ok {
		return 0
	}
	return acct.balance
}

func (m *mockState) hasAccount(holder, mint [32]byte) bool {
	_, ok := m.accounts[accountKey{holder: holder, mint: mint}]
	return ok
}

type collectEmitter struct {
	types []string
}

func (c *collectEmitter) Emit(evt events.Event) {
	c.types = append(c.types, evt.EventType())
}

func testIdentity(fill byte) [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = fill
	}
	return id
}

var (
	mintX = testIdentity(0x0A)
	mintY = testIdentity(0x0B)
)

func newTestEngine(state *mockState) *Engine {
	eng := NewEngine()
	eng.SetState(state)
	return eng
}

func TestOpenLocksOfferedAsset(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	state.fund(maker, mintX, 500)
	state.native[maker] = 1000

	eng := newTestEngine(state)
	record, err := eng.Open(maker, 1, mintX, mintY, 100, 50)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	expected, proof, err := DeriveRecord(maker, 1)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if record != expected {
		t.Fatalf("record address mismatch: %x vs %x", record, expected)
	}
	esc, ok := state.EscrowGet(record)
	if !ok {
		t.Fatal("record not stored")
	}
	if esc.Nonce != 1 || esc.Maker != maker || esc.MintA != mintX || esc.MintB != mintY || esc.Receive != 50 || esc.Proof != proof {
		t.Fatalf("stored record fields wrong: %+v", esc)
	}

	vault, _, err := DeriveVault(record, mintX)
	if err != nil {
		t.Fatalf("derive vault: %v", err)
	}
	if got := state.balanceOf(vault, mintX); got != 100 {
		t.Fatalf("custody balance = %d, want 100", got)
	}
	if got := state.balanceOf(maker, mintX); got != 400 {
		t.Fatalf("maker balance = %d, want 400", got)
	}
	if got := state.accounts[accountKey{holder: vault, mint: mintX}].authority; got != record {
		t.Fatal("custody authority must be the record address")
	}
	if got := state.native[maker]; got != 1000-mockRecordDeposit-mockAccountDeposit {
		t.Fatalf("maker native = %d, deposits not charged", got)
	}
}

func TestOpenRejectsZeroAmounts(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	state.fund(maker, mintX, 500)
	state.native[maker] = 1000
	eng := newTestEngine(state)

	if _, err := eng.Open(maker, 2, mintX, mintY, 10, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero receive: got %v, want ErrInvalidAmount", err)
	}
	if _, err := eng.Open(maker, 2, mintX, mintY, 0, 10); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero deposit: got %v, want ErrInvalidAmount", err)
	}
	if len(state.escrows) != 0 {
		t.Fatal("no record may be created")
	}
	if state.native[maker] != 1000 {
		t.Fatal("storage deposit must stay unspent")
	}
}

func TestOpenRejectsZeroNonce(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	state.fund(maker, mintX, 500)
	state.native[maker] = 1000
	eng := newTestEngine(state)

	if _, err := eng.Open(maker, 0, mintX, mintY, 10, 10); err == nil {
		t.Fatal("zero nonce must be rejected")
	}
}

func TestOpenRejectsDuplicateNonce(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	state.fund(maker, mintX, 500)
	state.native[maker] = 1000
	eng := newTestEngine(state)

	if _, err := eng.Open(maker, 7, mintX, mintY, 100, 50); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := eng.Open(maker, 7, mintX, mintY, 100, 50); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate open: got %v, want ErrExists", err)
	}
	// A different nonce opens an independent escrow.
	if _, err := eng.Open(maker, 8, mintX, mintY, 100, 50); err != nil {
		t.Fatalf("open with fresh nonce: %v", err)
	}
}

func TestOpenInsufficientMakerBalance(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	state.fund(maker, mintX, 30)
	state.native[maker] = 1000
	eng := newTestEngine(state)

	if _, err := eng.Open(maker, 1, mintX, mintY, 100, 50); err == nil {
		t.Fatal("open must fail when maker balance < offered amount")
	}
}

func TestFulfillSettlesBothLegs(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	taker := testIdentity(0x02)
	state.fund(maker, mintX, 500)
	state.fund(taker, mintY, 200)
	state.native[maker] = 1000
	state.native[taker] = 1000

	emitter := &collectEmitter{}
	eng := newTestEngine(state)
	eng.SetEmitter(emitter)

	record, err := eng.Open(maker, 1, mintX, mintY, 100, 50)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	makerNativeAfterOpen := state.native[maker]

	if err := eng.Fulfill(record, taker, maker, mintX, mintY); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	if got := state.balanceOf(taker, mintY); got != 150 {
		t.Fatalf("taker Y = %d, want 150", got)
	}
	if got := state.balanceOf(maker, mintY); got != 50 {
		t.Fatalf("maker Y = %d, want 50", got)
	}
	if got := state.balanceOf(taker, mintX); got != 100 {
		t.Fatalf("taker X = %d, want 100", got)
	}
	if got := state.balanceOf(maker, mintX); got != 400 {
		t.Fatalf("maker X = %d, want 400", got)
	}

	if _, ok := state.EscrowGet(record); ok {
		t.Fatal("record must be destroyed")
	}
	vault, _, _ := DeriveVault(record, mintX)
	if state.hasAccount(vault, mintX) {
		t.Fatal("custody account must be destroyed")
	}
	// Custody and record deposits flow back to the maker.
	if got := state.native[maker]; got != makerNativeAfterOpen+mockRecordDeposit+mockAccountDeposit {
		t.Fatalf("maker native = %d, deposits not refunded", got)
	}
	if len(emitter.types) != 2 || emitter.types[1] != EventTypeFulfilled {
		t.Fatalf("events = %v", emitter.types)
	}
}

func TestFulfillRejectsMismatchedReferences(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	taker := testIdentity(0x02)
	state.fund(maker, mintX, 500)
	state.fund(taker, mintY, 200)
	state.native[maker] = 1000
	state.native[taker] = 1000
	eng := newTestEngine(state)

	record, err := eng.Open(maker, 1, mintX, mintY, 100, 50)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	takerY := state.balanceOf(taker, mintY)

	cases := []struct {
		name  string
		maker [32]byte
		mintA [32]byte
		mintB [32]byte
		want  error
	}{
		{"wrong maker", testIdentity(0x09), mintX, mintY, ErrInvalidMaker},
		{"wrong offered mint", maker, mintY, mintY, ErrInvalidMintA},
		{"wrong requested mint", maker, mintX, mintX, ErrInvalidMintB},
	}
	for _, tc := range cases {
		if err := eng.Fulfill(record, taker, tc.maker, tc.mintA, tc.mintB); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
	if state.balanceOf(taker, mintY) != takerY {
		t.Fatal("no funds may move on a rejected fulfill")
	}
	if _, ok := state.EscrowGet(record); !ok {
		t.Fatal("record must survive a rejected fulfill")
	}
}

func TestFulfillInsufficientTakerBalance(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	taker := testIdentity(0x02)
	state.fund(maker, mintX, 500)
	state.fund(taker, mintY, 10)
	state.native[maker] = 1000
	state.native[taker] = 1000
	eng := newTestEngine(state)

	record, err := eng.Open(maker, 1, mintX, mintY, 100, 50)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := eng.Fulfill(record, taker, maker, mintX, mintY); err == nil {
		t.Fatal("fulfill must fail when taker balance < requested amount")
	}
}

func TestFulfillUnknownRecord(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	if err := eng.Fulfill(testIdentity(0x42), testIdentity(0x02), testIdentity(0x01), mintX, mintY); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestCancelReturnsCustodyToMaker(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	state.fund(maker, mintX, 500)
	state.native[maker] = 1000

	emitter := &collectEmitter{}
	eng := newTestEngine(state)
	eng.SetEmitter(emitter)

	record, err := eng.Open(maker, 3, mintX, mintY, 120, 60)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := eng.Cancel(record, maker); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if got := state.balanceOf(maker, mintX); got != 500 {
		t.Fatalf("maker X = %d, want full restore to 500", got)
	}
	if _, ok := state.EscrowGet(record); ok {
		t.Fatal("record must be destroyed")
	}
	vault, _, _ := DeriveVault(record, mintX)
	if state.hasAccount(vault, mintX) {
		t.Fatal("custody account must be destroyed")
	}
	if got := state.native[maker]; got != 1000 {
		t.Fatalf("maker native = %d, want deposits fully refunded", got)
	}
	if len(emitter.types) != 2 || emitter.types[1] != EventTypeCancelled {
		t.Fatalf("events = %v", emitter.types)
	}
}

func TestCancelRequiresMaker(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	intruder := testIdentity(0x05)
	state.fund(maker, mintX, 500)
	state.native[maker] = 1000
	eng := newTestEngine(state)

	record, err := eng.Open(maker, 1, mintX, mintY, 100, 50)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := eng.Cancel(record, intruder); !errors.Is(err, ErrInvalidMaker) {
		t.Fatalf("got %v, want ErrInvalidMaker", err)
	}
	vault, _, _ := DeriveVault(record, mintX)
	if got := state.balanceOf(vault, mintX); got != 100 {
		t.Fatal("custody must remain intact after a rejected cancel")
	}
}

func TestTerminalStatesAreExclusive(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	taker := testIdentity(0x02)
	state.fund(maker, mintX, 500)
	state.fund(taker, mintY, 200)
	state.native[maker] = 1000
	state.native[taker] = 1000
	eng := newTestEngine(state)

	record, err := eng.Open(maker, 1, mintX, mintY, 100, 50)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := eng.Fulfill(record, taker, maker, mintX, mintY); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if err := eng.Fulfill(record, taker, maker, mintX, mintY); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second fulfill: got %v, want ErrNotFound", err)
	}
	if err := eng.Cancel(record, maker); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cancel after fulfill: got %v, want ErrNotFound", err)
	}

	record2, err := eng.Open(maker, 2, mintX, mintY, 50, 25)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := eng.Cancel(record2, maker); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := eng.Fulfill(record2, taker, maker, mintX, mintY); !errors.Is(err, ErrNotFound) {
		t.Fatalf("fulfill after cancel: got %v, want ErrNotFound", err)
	}
}

func TestCustodyImmuneToDirectWithdrawal(t *testing.T) {
	state := newMockState()
	maker := testIdentity(0x01)
	attacker := testIdentity(0x06)
	state.fund(maker, mintX, 500)
	state.fund(attacker, mintX, 0)
	state.native[maker] = 1000
	eng := newTestEngine(state)

	record, err := eng.Open(maker, 1, mintX, mintY, 100, 50)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	vault, _, _ := DeriveVault(record, mintX)

	// No witness: the attacker is not the custody authority.
	if err := state.Transfer(attacker, vault, attacker, mintX, 100, nil); err == nil {
		t.Fatal("custody transfer without witness must fail")
	}
	// Forged witness with a wrong proof byte re-derives a different address.
	esc, _ := state.EscrowGet(record)
	forged := RecordWitness(esc.Maker, esc.Nonce, esc.Proof+1)
	if err := state.Transfer(attacker, vault, attacker, mintX, 100, forged); err == nil {
		t.Fatal("custody transfer with forged witness must fail")
	}
	// The maker's own identity is not the custody authority either.
	if err := state.Transfer(maker, vault, maker, mintX, 100, nil); err == nil {
		t.Fatal("even the maker cannot bypass the record authority")
	}
	if got := state.balanceOf(vault, mintX); got != 100 {
		t.Fatalf("custody balance = %d, want untouched 100", got)
	}
}
