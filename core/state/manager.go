package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"swapvault/native/escrow"
	"swapvault/storage"
)

// KV is the key-value surface the manager operates on. Both a raw database
// and a speculative overlay satisfy it.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
}

// Storage bonds are proportional to the persisted object size and are
// returned in full when the object is destroyed.
const (
	depositPerByte    = 8
	storedAccountSize = 73

	// RecordDeposit is the native-unit bond charged for an escrow record.
	RecordDeposit uint64 = depositPerByte * escrow.EncodedSize
	// AccountDeposit is the native-unit bond charged for a token account.
	AccountDeposit uint64 = depositPerByte * storedAccountSize
)

var (
	// ErrAccountNotFound is returned by transfers and closures targeting a
	// token account that does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAccountExists is returned when provisioning an already existing
	// token account.
	ErrAccountExists = errors.New("ledger: account already exists")
	// ErrUnauthorized is returned when neither the caller nor the supplied
	// witness matches the source account's controlling authority.
	ErrUnauthorized = errors.New("ledger: not authorized for account")
	// ErrInsufficientBalance is returned when a transfer or debit exceeds
	// the available balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrTokenNotRegistered is returned when an operation references an
	// unknown asset id.
	ErrTokenNotRegistered = errors.New("ledger: token not registered")
)

var (
	tokenPrefix   = []byte("token:")
	tokenListKey  = ethcrypto.Keccak256([]byte("token-list"))
	accountPrefix = []byte("acct:")
	escrowPrefix  = []byte("escrow:")
	nativePrefix  = []byte("native:")
	flagPrefix    = []byte("flag:")
)

// TokenMetadata describes a registered asset.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// Account is a balance-holding token account. Authority is the address that
// may move or close it: the holder itself for ordinary accounts, an escrow
// record's derived address for custody accounts.
type Account struct {
	Authority [32]byte
	Balance   uint64
	Deposit   uint64
}

// Manager reads and writes ledger state through a key-value backend. It
// implements the escrow engine's state interface.
type Manager struct {
	kv KV
}

// NewManager creates a state manager operating on the provided backend.
func NewManager(kv KV) *Manager {
	return &Manager{kv: kv}
}

func tokenKey(id [32]byte) []byte {
	return prefixedKey(tokenPrefix, id[:])
}

func accountKey(holder, mint [32]byte) []byte {
	return prefixedKey(accountPrefix, holder[:], mint[:])
}

func escrowKey(addr [32]byte) []byte {
	return prefixedKey(escrowPrefix, addr[:])
}

func nativeKey(addr [32]byte) []byte {
	return prefixedKey(nativePrefix, addr[:])
}

func flagKey(name string) []byte {
	return prefixedKey(flagPrefix, []byte(name))
}

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) kvGet(key []byte) ([]byte, bool, error) {
	data, err := m.kv.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// --- token registry ---

// TokenID derives the deterministic 32-byte asset id for a symbol.
func TokenID(symbol string) [32]byte {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256([]byte("token-id:"+normalized)))
	return id
}

// RegisterToken stores the metadata for an asset and records it in the token
// index, returning the derived asset id.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) ([32]byte, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return [32]byte{}, fmt.Errorf("ledger: token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return [32]byte{}, fmt.Errorf("ledger: token %s: name must not be empty", normalized)
	}
	id := TokenID(normalized)
	if existing, err := m.Token(id); err != nil {
		return [32]byte{}, err
	} else if existing != nil {
		return [32]byte{}, fmt.Errorf("ledger: token %s already registered", normalized)
	}

	list, err := m.TokenList()
	if err != nil {
		return [32]byte{}, err
	}
	list = append(list, normalized)
	sort.Strings(list)
	encodedList, err := rlp.EncodeToBytes(list)
	if err != nil {
		return [32]byte{}, err
	}
	if err := m.kv.Put(tokenListKey, encodedList); err != nil {
		return [32]byte{}, err
	}

	meta := &TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals}
	encoded, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return [32]byte{}, err
	}
	if err := m.kv.Put(tokenKey(id), encoded); err != nil {
		return [32]byte{}, err
	}
	return id, nil
}

// Token retrieves metadata for a registered asset, or nil when unknown.
func (m *Manager) Token(id [32]byte) (*TokenMetadata, error) {
	data, ok, err := m.kvGet(tokenKey(id))
	if err != nil || !ok {
		return nil, err
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	data, ok, err := m.kvGet(tokenListKey)
	if err != nil || !ok {
		return []string{}, err
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// --- native balances (storage-deposit currency) ---

// NativeBalance retrieves the native-unit balance used for storage bonds.
func (m *Manager) NativeBalance(addr [32]byte) (uint64, error) {
	data, ok, err := m.kvGet(nativeKey(addr))
	if err != nil || !ok {
		return 0, err
	}
	var balance uint64
	if err := rlp.DecodeBytes(data, &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func (m *Manager) setNativeBalance(addr [32]byte, balance uint64) error {
	encoded, err := rlp.EncodeToBytes(balance)
	if err != nil {
		return err
	}
	return m.kv.Put(nativeKey(addr), encoded)
}

// NativeCredit adds native units to an address.
func (m *Manager) NativeCredit(addr [32]byte, amount uint64) error {
	balance, err := m.NativeBalance(addr)
	if err != nil {
		return err
	}
	if balance+amount < balance {
		return fmt.Errorf("ledger: native balance overflow")
	}
	return m.setNativeBalance(addr, balance+amount)
}

// NativeDebit removes native units from an address.
func (m *Manager) NativeDebit(addr [32]byte, amount uint64) error {
	balance, err := m.NativeBalance(addr)
	if err != nil {
		return err
	}
	if balance < amount {
		return ErrInsufficientBalance
	}
	return m.setNativeBalance(addr, balance-amount)
}

// --- token accounts ---

// Account retrieves a token account for (holder, mint).
func (m *Manager) Account(holder, mint [32]byte) (*Account, bool, error) {
	data, ok, err := m.kvGet(accountKey(holder, mint))
	if err != nil || !ok {
		return nil, false, err
	}
	acct := new(Account)
	if err := rlp.DecodeBytes(data, acct); err != nil {
		return nil, false, err
	}
	return acct, true, nil
}

func (m *Manager) putAccount(holder, mint [32]byte, acct *Account) error {
	encoded, err := rlp.EncodeToBytes(acct)
	if err != nil {
		return err
	}
	return m.kv.Put(accountKey(holder, mint), encoded)
}

// OpenAccount provisions a token account with the given controlling
// authority, charging the storage bond to payer.
func (m *Manager) OpenAccount(holder, mint, authority, payer [32]byte) error {
	if meta, err := m.Token(mint); err != nil {
		return err
	} else if meta == nil {
		return ErrTokenNotRegistered
	}
	if _, ok, err := m.Account(holder, mint); err != nil {
		return err
	} else if ok {
		return ErrAccountExists
	}
	if err := m.NativeDebit(payer, AccountDeposit); err != nil {
		return err
	}
	return m.putAccount(holder, mint, &Account{Authority: authority, Deposit: AccountDeposit})
}

// EnsureAccount provisions a self-authorized account for (holder, mint) if
// none exists, charging the bond to payer.
func (m *Manager) EnsureAccount(holder, mint, payer [32]byte) error {
	if _, ok, err := m.Account(holder, mint); err != nil {
		return err
	} else if ok {
		return nil
	}
	return m.OpenAccount(holder, mint, holder, payer)
}

// CloseAccount destroys an empty token account and refunds its storage bond
// to dest. Closure must be authorized by a witness re-deriving the account's
// controlling authority; only derived authorities ever close accounts in
// this system.
func (m *Manager) CloseAccount(holder, mint, dest [32]byte, w *escrow.Witness) error {
	acct, ok, err := m.Account(holder, mint)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if w == nil || w.Address() != acct.Authority {
		return ErrUnauthorized
	}
	if acct.Balance != 0 {
		return fmt.Errorf("ledger: cannot close account holding a balance")
	}
	if err := m.kv.Delete(accountKey(holder, mint)); err != nil {
		return err
	}
	return m.NativeCredit(dest, acct.Deposit)
}

// Transfer moves amount units of mint between token accounts. The source
// account's controlling authority must be matched either by the caller
// identity or by a derivation witness.
func (m *Manager) Transfer(caller, from, to, mint [32]byte, amount uint64, w *escrow.Witness) error {
	if amount == 0 {
		return nil
	}
	fromAcct, ok, err := m.Account(from, mint)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if w != nil {
		if w.Address() != fromAcct.Authority {
			return ErrUnauthorized
		}
	} else if caller != fromAcct.Authority {
		return ErrUnauthorized
	}
	if fromAcct.Balance < amount {
		return ErrInsufficientBalance
	}
	// A transfer into the source account nets to zero. Stop here: decoding
	// the same key into two structs would let the credit write overwrite
	// the debit.
	if from == to {
		return nil
	}
	toAcct, ok, err := m.Account(to, mint)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if toAcct.Balance+amount < toAcct.Balance {
		return fmt.Errorf("ledger: balance overflow")
	}
	fromAcct.Balance -= amount
	toAcct.Balance += amount
	if err := m.putAccount(from, mint, fromAcct); err != nil {
		return err
	}
	return m.putAccount(to, mint, toAcct)
}

// Balance retrieves the token balance for (holder, mint); missing accounts
// read as zero.
func (m *Manager) Balance(holder, mint [32]byte) (uint64, error) {
	acct, ok, err := m.Account(holder, mint)
	if err != nil || !ok {
		return 0, err
	}
	return acct.Balance, nil
}

// Mint credits freshly issued units to an existing token account. Used by
// the node's bootstrap and funding surface, not by the escrow engine.
func (m *Manager) Mint(holder, mint [32]byte, amount uint64) error {
	acct, ok, err := m.Account(holder, mint)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccountNotFound
	}
	if acct.Balance+amount < acct.Balance {
		return fmt.Errorf("ledger: balance overflow")
	}
	acct.Balance += amount
	return m.putAccount(holder, mint, acct)
}

// --- escrow records ---

// EscrowCreate persists a new record at addr, charging the record bond to
// payer.
func (m *Manager) EscrowCreate(addr [32]byte, esc *escrow.Escrow, payer [32]byte) error {
	if ok, err := m.kv.Has(escrowKey(addr)); err != nil {
		return err
	} else if ok {
		return escrow.ErrExists
	}
	sanitized, err := escrow.SanitizeEscrow(esc)
	if err != nil {
		return err
	}
	if err := m.NativeDebit(payer, RecordDeposit); err != nil {
		return err
	}
	encoded, err := sanitized.MarshalBinary()
	if err != nil {
		return err
	}
	return m.kv.Put(escrowKey(addr), encoded)
}

// EscrowGet loads the record stored at addr.
func (m *Manager) EscrowGet(addr [32]byte) (*escrow.Escrow, bool) {
	data, ok, err := m.kvGet(escrowKey(addr))
	if err != nil || !ok {
		return nil, false
	}
	esc := new(escrow.Escrow)
	if err := esc.UnmarshalBinary(data); err != nil {
		return nil, false
	}
	return esc, true
}

// EscrowClose destroys the record at addr and refunds its bond to dest.
func (m *Manager) EscrowClose(addr [32]byte, dest [32]byte) error {
	if ok, err := m.kv.Has(escrowKey(addr)); err != nil {
		return err
	} else if !ok {
		return escrow.ErrNotFound
	}
	if err := m.kv.Delete(escrowKey(addr)); err != nil {
		return err
	}
	return m.NativeCredit(dest, RecordDeposit)
}

// --- one-shot flags ---

// Flag reports whether a named marker has been set.
func (m *Manager) Flag(name string) (bool, error) {
	return m.kv.Has(flagKey(name))
}

// SetFlag records a named marker.
func (m *Manager) SetFlag(name string) error {
	return m.kv.Put(flagKey(name), []byte{1})
}
