package escrow

import (
	"errors"
	"fmt"

	"swapvault/core/events"
	"swapvault/core/types"
)

var errNilState = errors.New("escrow engine: state not configured")

// engineState is the slice of ledger and provisioning functionality the
// engine depends on. Transfers and closures against accounts whose authority
// is a derived address must be accompanied by a witness that re-derives to
// that authority; the ledger enforces this, not the engine.
type engineState interface {
	EscrowCreate(addr [32]byte, esc *Escrow, payer [32]byte) error
	EscrowGet(addr [32]byte) (*Escrow, bool)
	EscrowClose(addr [32]byte, dest [32]byte) error

	OpenAccount(holder, mint, authority, payer [32]byte) error
	EnsureAccount(holder, mint, payer [32]byte) error
	CloseAccount(holder, mint, dest [32]byte, w *Witness) error
	Transfer(caller, from, to, mint [32]byte, amount uint64, w *Witness) error
	Balance(holder, mint [32]byte) (uint64, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine implements the escrow lifecycle: Open locks the maker's offered
// asset in a custody account controlled by the record's own derived address,
// Fulfill atomically exchanges it against the taker's requested asset, and
// Cancel returns it to the maker. The engine performs no locking or rollback
// of its own; the node runs each call against a speculative state overlay
// and commits it as a single unit.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

// Open creates the escrow record and moves amount units of mintA from the
// maker into a custody account whose authority is the record's own derived
// address. It returns the record address.
func (e *Engine) Open(maker [32]byte, nonce uint64, mintA, mintB [32]byte, amount, receive uint64) ([32]byte, error) {
	if e == nil || e.state == nil {
		return [32]byte{}, errNilState
	}
	if amount == 0 || receive == 0 {
		return [32]byte{}, ErrInvalidAmount
	}
	if nonce == 0 {
		return [32]byte{}, fmt.Errorf("escrow: nonce must be positive")
	}
	record, proof, err := DeriveRecord(maker, nonce)
	if err != nil {
		return [32]byte{}, err
	}
	if _, ok := e.state.EscrowGet(record); ok {
		return [32]byte{}, ErrExists
	}
	esc := &Escrow{
		Nonce:   nonce,
		Maker:   maker,
		MintA:   mintA,
		MintB:   mintB,
		Receive: receive,
		Proof:   proof,
	}
	if err := e.state.EscrowCreate(record, esc, maker); err != nil {
		return [32]byte{}, err
	}
	vault, _, err := DeriveVault(record, mintA)
	if err != nil {
		return [32]byte{}, err
	}
	if err := e.state.OpenAccount(vault, mintA, record, maker); err != nil {
		return [32]byte{}, err
	}
	if err := e.state.Transfer(maker, maker, vault, mintA, amount, nil); err != nil {
		return [32]byte{}, err
	}
	e.emit(NewOpenedEvent(record, esc, amount))
	return record, nil
}

// Fulfill settles the trade at the given record address: the taker pays the
// requested amount of mintB directly to the maker, receives the full custody
// balance of mintA, and both the custody account and the record are closed
// with their storage deposits returned to the maker. The supplied maker and
// mint references must match the stored record.
func (e *Engine) Fulfill(record, taker, maker, mintA, mintB [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	esc, ok := e.state.EscrowGet(record)
	if !ok {
		return ErrNotFound
	}
	if esc.Maker != maker {
		return ErrInvalidMaker
	}
	if esc.MintA != mintA {
		return ErrInvalidMintA
	}
	if esc.MintB != mintB {
		return ErrInvalidMintB
	}
	if !VerifyRecord(record, esc.Maker, esc.Nonce, esc.Proof) {
		return ErrDerivation
	}

	// Leg 1: requested asset, taker -> maker. Never touches custody.
	if err := e.state.EnsureAccount(esc.Maker, esc.MintB, taker); err != nil {
		return err
	}
	if err := e.state.Transfer(taker, taker, esc.Maker, esc.MintB, esc.Receive, nil); err != nil {
		return err
	}

	// Leg 2: full custody balance, vault -> taker, authorized by the
	// record's derivation witness.
	vault, _, err := DeriveVault(record, esc.MintA)
	if err != nil {
		return err
	}
	locked, err := e.state.Balance(vault, esc.MintA)
	if err != nil {
		return err
	}
	witness := esc.Witness()
	if err := e.state.EnsureAccount(taker, esc.MintA, taker); err != nil {
		return err
	}
	if err := e.state.Transfer(taker, vault, taker, esc.MintA, locked, witness); err != nil {
		return err
	}
	if err := e.state.CloseAccount(vault, esc.MintA, esc.Maker, witness); err != nil {
		return err
	}
	if err := e.state.EscrowClose(record, esc.Maker); err != nil {
		return err
	}
	e.emit(NewFulfilledEvent(record, esc, taker, locked))
	return nil
}

// Cancel unwinds an open trade: the full custody balance returns to the
// maker and the record and custody account are closed. Only the original
// maker may invoke it.
func (e *Engine) Cancel(record, caller [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	esc, ok := e.state.EscrowGet(record)
	if !ok {
		return ErrNotFound
	}
	if esc.Maker != caller {
		return ErrInvalidMaker
	}
	if !VerifyRecord(record, esc.Maker, esc.Nonce, esc.Proof) {
		return ErrDerivation
	}
	vault, _, err := DeriveVault(record, esc.MintA)
	if err != nil {
		return err
	}
	locked, err := e.state.Balance(vault, esc.MintA)
	if err != nil {
		return err
	}
	witness := esc.Witness()
	if err := e.state.Transfer(caller, vault, esc.Maker, esc.MintA, locked, witness); err != nil {
		return err
	}
	if err := e.state.CloseAccount(vault, esc.MintA, esc.Maker, witness); err != nil {
		return err
	}
	if err := e.state.EscrowClose(record, esc.Maker); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(record, esc, locked))
	return nil
}
