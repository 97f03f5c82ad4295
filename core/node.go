package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"swapvault/config"
	"swapvault/core/events"
	"swapvault/core/state"
	"swapvault/crypto"
	"swapvault/native/escrow"
	"swapvault/observability/metrics"
	"swapvault/storage"
)

// genesisFlag marks a database whose initial token registry and allocations
// have been applied.
const genesisFlag = "genesis-applied"

// Node owns the database handle and serialises every state transition. Each
// operation runs against a fresh overlay and is committed to the backing
// database as one atomic batch only when the whole operation succeeds; events
// raised during the transition are buffered and forwarded only after the
// commit.
type Node struct {
	db      storage.Database
	stateMu sync.Mutex
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.NodeMetrics
}

// NewNode creates a node over the provided database.
func NewNode(db storage.Database, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		db:      db,
		emitter: events.NoopEmitter{},
		logger:  logger,
		metrics: metrics.Node(),
	}
}

// SetEmitter configures the downstream event emitter. Passing nil discards
// events.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	n.emitter = emitter
}

// withState runs fn against a speculative overlay of the database and commits
// the overlay only when fn returns nil. Buffered events are forwarded after a
// successful commit.
func (n *Node) withState(op string, fn func(*state.Manager, *events.Buffer) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	started := time.Now()
	overlay := storage.NewOverlay(n.db)
	manager := state.NewManager(overlay)
	buffer := new(events.Buffer)

	err := fn(manager, buffer)
	if err == nil {
		err = overlay.Commit()
	}
	n.metrics.Observe(op, err, started)
	if err != nil {
		n.logger.Warn("operation rejected", "op", op, "err", err)
		return err
	}
	buffer.Flush(n.emitter)
	return nil
}

func (n *Node) newEngine(manager *state.Manager, buffer *events.Buffer) *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(buffer)
	return engine
}

func recordString(addr [32]byte) string {
	encoded, err := crypto.EncodeRecord(addr)
	if err != nil {
		return fmt.Sprintf("%x", addr)
	}
	return encoded
}

func identityString(id [32]byte) string {
	encoded, err := crypto.EncodeIdentity(id)
	if err != nil {
		return fmt.Sprintf("%x", id)
	}
	return encoded
}

// EscrowOpen creates an escrow record for the maker and locks amount units of
// mintA in its custody account. It returns the derived record address.
func (n *Node) EscrowOpen(maker [32]byte, nonce uint64, mintA, mintB [32]byte, amount, receive uint64) ([32]byte, error) {
	var record [32]byte
	err := n.withState("escrow_open", func(manager *state.Manager, buffer *events.Buffer) error {
		addr, err := n.newEngine(manager, buffer).Open(maker, nonce, mintA, mintB, amount, receive)
		if err != nil {
			return err
		}
		record = addr
		return nil
	})
	if err != nil {
		return [32]byte{}, err
	}
	n.metrics.RecordOpened()
	n.logger.Info("escrow opened",
		"record", recordString(record),
		"maker", identityString(maker),
		"amount", amount,
		"receive", receive,
	)
	return record, nil
}

// EscrowFulfill settles the exchange named by record: the taker pays the
// requested amount of mintB to the maker and receives the full custody
// balance of mintA, after which the record and its custody account are
// destroyed.
func (n *Node) EscrowFulfill(record, taker, maker, mintA, mintB [32]byte) error {
	err := n.withState("escrow_fulfill", func(manager *state.Manager, buffer *events.Buffer) error {
		return n.newEngine(manager, buffer).Fulfill(record, taker, maker, mintA, mintB)
	})
	if err != nil {
		return err
	}
	n.metrics.RecordClosed()
	n.logger.Info("escrow fulfilled",
		"record", recordString(record),
		"taker", identityString(taker),
	)
	return nil
}

// EscrowCancel returns the custody balance to the maker and destroys the
// record. Only the maker may cancel.
func (n *Node) EscrowCancel(record, caller [32]byte) error {
	err := n.withState("escrow_cancel", func(manager *state.Manager, buffer *events.Buffer) error {
		return n.newEngine(manager, buffer).Cancel(record, caller)
	})
	if err != nil {
		return err
	}
	n.metrics.RecordClosed()
	n.logger.Info("escrow cancelled", "record", recordString(record))
	return nil
}

// EscrowGet loads the record stored at addr without mutating state.
func (n *Node) EscrowGet(addr [32]byte) (*escrow.Escrow, bool) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.db).EscrowGet(addr)
}

// TokenRegister registers an asset and returns its derived id.
func (n *Node) TokenRegister(symbol, name string, decimals uint8) ([32]byte, error) {
	var id [32]byte
	err := n.withState("token_register", func(manager *state.Manager, _ *events.Buffer) error {
		derived, err := manager.RegisterToken(symbol, name, decimals)
		if err != nil {
			return err
		}
		id = derived
		return nil
	})
	if err != nil {
		return [32]byte{}, err
	}
	n.logger.Info("token registered", "symbol", symbol, "id", fmt.Sprintf("%x", id))
	return id, nil
}

// TokenList returns all registered token symbols.
func (n *Node) TokenList() ([]string, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.db).TokenList()
}

// Token returns the metadata for a registered asset id, or nil when unknown.
func (n *Node) Token(id [32]byte) (*state.TokenMetadata, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.db).Token(id)
}

// NativeFund credits native units used for storage bonds to an address.
func (n *Node) NativeFund(addr [32]byte, amount uint64) error {
	return n.withState("native_fund", func(manager *state.Manager, _ *events.Buffer) error {
		return manager.NativeCredit(addr, amount)
	})
}

// NativeBalance reads the native-unit balance of an address.
func (n *Node) NativeBalance(addr [32]byte) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.db).NativeBalance(addr)
}

// TokenFund mints token units to the holder's account, provisioning the
// account first if needed with the holder paying the bond.
func (n *Node) TokenFund(holder, mint [32]byte, amount uint64) error {
	return n.withState("token_fund", func(manager *state.Manager, _ *events.Buffer) error {
		if err := manager.EnsureAccount(holder, mint, holder); err != nil {
			return err
		}
		return manager.Mint(holder, mint, amount)
	})
}

// Balance reads the token balance for (holder, mint); missing accounts read
// as zero.
func (n *Node) Balance(holder, mint [32]byte) (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.db).Balance(holder, mint)
}

// Bootstrap applies the configured token registry and initial allocations.
// It is idempotent: a database that already carries the genesis marker is
// left untouched.
func (n *Node) Bootstrap(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("core: nil config")
	}
	return n.withState("bootstrap", func(manager *state.Manager, _ *events.Buffer) error {
		applied, err := manager.Flag(genesisFlag)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
		for _, token := range cfg.Tokens {
			if _, err := manager.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
				return fmt.Errorf("core: register token %s: %w", token.Symbol, err)
			}
		}
		for _, alloc := range cfg.Allocations {
			addr, err := crypto.DecodeIdentity(alloc.Address)
			if err != nil {
				return fmt.Errorf("core: allocation %s: %w", alloc.Address, err)
			}
			if err := manager.NativeCredit(addr, alloc.Native); err != nil {
				return err
			}
			for symbol, amount := range alloc.Balances {
				mint := state.TokenID(symbol)
				if meta, err := manager.Token(mint); err != nil {
					return err
				} else if meta == nil {
					return fmt.Errorf("core: allocation %s references unregistered token %s", alloc.Address, symbol)
				}
				if err := manager.EnsureAccount(addr, mint, addr); err != nil {
					return err
				}
				if err := manager.Mint(addr, mint, amount); err != nil {
					return err
				}
			}
		}
		return manager.SetFlag(genesisFlag)
	})
}
