// Package vault implements the settlement-asset ledger the risk engine moves
// margin through: vault balances, custody capability tokens scoped to one
// owning entity, and validated transfer batches that apply all-or-nothing.
package vault

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientBalance is returned when a transfer would take a vault
	// below zero.
	ErrInsufficientBalance = errors.New("insufficient vault balance")

	// ErrInvalidCustody is returned when a custody token does not authorize
	// the source vault of a transfer.
	ErrInvalidCustody = errors.New("custody token does not cover vault")

	// ErrVaultNotFound is returned for operations on unknown vaults.
	ErrVaultNotFound = errors.New("vault not found")

	// ErrVaultNotEmpty is returned when releasing a vault that still holds
	// a balance.
	ErrVaultNotEmpty = errors.New("vault balance must be zero to release")
)

// ID identifies a vault.
type ID = uuid.UUID

// Owner identifies the entity a vault (or custody token) is bound to:
// a party, a deal, or a market.
type Owner string

// Custody is a capability token bound to one owning entity. It is valid only
// for move/release operations on vaults owned by that entity, never a
// general-purpose credential.
type Custody struct {
	owner Owner
	token uuid.UUID
}

// Owner returns the entity this custody token is bound to.
func (c Custody) Owner() Owner { return c.owner }

// Transfer is one balance movement inside a batch. From is the zero ID for
// mint-style funding used only in tests and deposits from external sources.
type Transfer struct {
	Amount  uint64
	From    ID
	To      ID
	Custody Custody
}

// Applied is one executed transfer, recorded for the persistence journal.
// Owners are captured at apply time since a vault may be released later.
type Applied struct {
	Amount    uint64
	From      ID
	To        ID
	FromOwner Owner
	ToOwner   Owner
}

// Ledger is the in-memory settlement ledger. It is not safe for concurrent
// use; the service layer serializes all operations (single-writer).
type Ledger struct {
	balances map[ID]uint64
	owners   map[ID]Owner
	custody  map[Owner]uuid.UUID
	journal  []Applied
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[ID]uint64),
		owners:   make(map[ID]Owner),
		custody:  make(map[Owner]uuid.UUID),
	}
}

// IssueCustody issues (or re-reads) the custody token for an owner. A second
// call for the same owner returns the same token: one capability per entity.
func (l *Ledger) IssueCustody(owner Owner) Custody {
	tok, ok := l.custody[owner]
	if !ok {
		tok = uuid.New()
		l.custody[owner] = tok
	}
	return Custody{owner: owner, token: tok}
}

// OpenVault creates an empty vault owned by owner.
func (l *Ledger) OpenVault(owner Owner) ID {
	id := uuid.New()
	l.balances[id] = 0
	l.owners[id] = owner
	return id
}

// Balance returns the current balance of a vault.
func (l *Ledger) Balance(v ID) (uint64, error) {
	bal, ok := l.balances[v]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrVaultNotFound, v)
	}
	return bal, nil
}

// OwnerOf returns the owning entity of a vault.
func (l *Ledger) OwnerOf(v ID) (Owner, error) {
	o, ok := l.owners[v]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrVaultNotFound, v)
	}
	return o, nil
}

// Deposit credits a vault from outside the ledger (external funding source).
func (l *Ledger) Deposit(v ID, amount uint64) error {
	if _, ok := l.balances[v]; !ok {
		return fmt.Errorf("%w: %s", ErrVaultNotFound, v)
	}
	l.balances[v] += amount
	return nil
}

// validateTransfer checks a single transfer against projected balances.
func (l *Ledger) validateTransfer(t Transfer, projected map[ID]uint64) error {
	fromBal, ok := projected[t.From]
	if !ok {
		stored, err := l.Balance(t.From)
		if err != nil {
			return err
		}
		fromBal = stored
		projected[t.From] = stored
	}
	if _, ok := l.balances[t.To]; !ok {
		return fmt.Errorf("%w: %s", ErrVaultNotFound, t.To)
	}

	owner := l.owners[t.From]
	if t.Custody.owner != owner || l.custody[owner] != t.Custody.token {
		return fmt.Errorf("%w: vault %s owned by %q", ErrInvalidCustody, t.From, owner)
	}

	if fromBal < t.Amount {
		return fmt.Errorf("%w: vault %s has %d, need %d", ErrInsufficientBalance, t.From, fromBal, t.Amount)
	}

	projected[t.From] = fromBal - t.Amount
	if _, ok := projected[t.To]; !ok {
		projected[t.To] = l.balances[t.To]
	}
	projected[t.To] += t.Amount
	return nil
}

// ApplyBatch validates every transfer against projected balances, walking the
// batch in order, then applies the whole batch. On any validation failure
// nothing is applied. This is the all-or-nothing boundary each engine
// operation relies on.
func (l *Ledger) ApplyBatch(batch []Transfer) error {
	projected := make(map[ID]uint64, len(batch)*2)
	for i, t := range batch {
		if t.Amount == 0 {
			continue
		}
		if err := l.validateTransfer(t, projected); err != nil {
			return fmt.Errorf("transfer %d: %w", i, err)
		}
	}
	for v, bal := range projected {
		l.balances[v] = bal
	}
	for _, t := range batch {
		if t.Amount == 0 {
			continue
		}
		l.journal = append(l.journal, Applied{
			Amount:    t.Amount,
			From:      t.From,
			To:        t.To,
			FromOwner: l.owners[t.From],
			ToOwner:   l.owners[t.To],
		})
	}
	return nil
}

// DrainJournal returns the transfers applied since the last drain and resets
// the journal. The service drains once per committed operation and hands the
// entries to the persistence pipeline.
func (l *Ledger) DrainJournal() []Applied {
	if len(l.journal) == 0 {
		return nil
	}
	applied := l.journal
	l.journal = nil
	return applied
}

// Release reclaims a vault. It fails unless the balance is exactly zero and
// the custody token covers the vault's owner.
func (l *Ledger) Release(v ID, c Custody) error {
	bal, ok := l.balances[v]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVaultNotFound, v)
	}
	owner := l.owners[v]
	if c.owner != owner || l.custody[owner] != c.token {
		return fmt.Errorf("%w: vault %s owned by %q", ErrInvalidCustody, v, owner)
	}
	if bal != 0 {
		return fmt.Errorf("%w: vault %s holds %d", ErrVaultNotEmpty, v, bal)
	}
	delete(l.balances, v)
	delete(l.owners, v)
	return nil
}
