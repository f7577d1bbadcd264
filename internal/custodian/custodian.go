// Package custodian implements the per-account available/locked balance
// ledger. It is the sole place funds move: placement locks, cancellation
// and expiration unlock, fills debit-locked on one side and
// credit-available on the other. Every transition is a checked addition
// or subtraction; failure aborts the caller's operation with no partial
// movement.
package custodian

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"critbook/internal/account"
	"critbook/internal/fixedpoint"
)

// ErrInsufficientFunds is returned when a lock or withdrawal would move
// more than is available.
var ErrInsufficientFunds = errors.New("custodian: insufficient funds")

// Balance is one account's available/locked split for a single asset pair.
type Balance struct {
	AvailableBase  uint64
	LockedBase     uint64
	AvailableQuote uint64
	LockedQuote    uint64
}

// Custodian is a sparse map of account ledgers; accounts are
// default-constructed on first touch.
type Custodian struct {
	accounts map[account.ID]*Balance
}

// New returns an empty custodian.
func New() *Custodian {
	return &Custodian{accounts: make(map[account.ID]*Balance)}
}

func (c *Custodian) entry(a account.ID) *Balance {
	b, ok := c.accounts[a]
	if !ok {
		b = &Balance{}
		c.accounts[a] = b
	}
	return b
}

// Balance returns a copy of a's ledger (zero value if never touched).
func (c *Custodian) Balance(a account.ID) Balance {
	if b, ok := c.accounts[a]; ok {
		return *b
	}
	return Balance{}
}

// DepositBase credits a's available base balance.
func (c *Custodian) DepositBase(a account.ID, amount uint64) error {
	b := c.entry(a)
	sum, err := fixedpoint.CheckedAdd(b.AvailableBase, amount)
	if err != nil {
		return fmt.Errorf("custodian: deposit base: %w", err)
	}
	b.AvailableBase = sum
	log.Debug().Str("account", a.String()).Uint64("amount", amount).Msg("deposit base")
	return nil
}

// DepositQuote credits a's available quote balance.
func (c *Custodian) DepositQuote(a account.ID, amount uint64) error {
	b := c.entry(a)
	sum, err := fixedpoint.CheckedAdd(b.AvailableQuote, amount)
	if err != nil {
		return fmt.Errorf("custodian: deposit quote: %w", err)
	}
	b.AvailableQuote = sum
	log.Debug().Str("account", a.String()).Uint64("amount", amount).Msg("deposit quote")
	return nil
}

// WithdrawBase debits a's available base balance.
func (c *Custodian) WithdrawBase(a account.ID, amount uint64) error {
	b := c.entry(a)
	if b.AvailableBase < amount {
		return fmt.Errorf("custodian: withdraw base: %w", ErrInsufficientFunds)
	}
	b.AvailableBase -= amount
	log.Debug().Str("account", a.String()).Uint64("amount", amount).Msg("withdraw base")
	return nil
}

// WithdrawQuote debits a's available quote balance.
func (c *Custodian) WithdrawQuote(a account.ID, amount uint64) error {
	b := c.entry(a)
	if b.AvailableQuote < amount {
		return fmt.Errorf("custodian: withdraw quote: %w", ErrInsufficientFunds)
	}
	b.AvailableQuote -= amount
	log.Debug().Str("account", a.String()).Uint64("amount", amount).Msg("withdraw quote")
	return nil
}

// LockBase moves amount from available to locked base.
func (c *Custodian) LockBase(a account.ID, amount uint64) error {
	b := c.entry(a)
	if b.AvailableBase < amount {
		return fmt.Errorf("custodian: lock base: %w", ErrInsufficientFunds)
	}
	if b.LockedBase+amount < b.LockedBase {
		return fmt.Errorf("custodian: lock base: %w", fixedpoint.ErrOverflow)
	}
	b.AvailableBase -= amount
	b.LockedBase += amount
	return nil
}

// LockQuote moves amount from available to locked quote.
func (c *Custodian) LockQuote(a account.ID, amount uint64) error {
	b := c.entry(a)
	if b.AvailableQuote < amount {
		return fmt.Errorf("custodian: lock quote: %w", ErrInsufficientFunds)
	}
	if b.LockedQuote+amount < b.LockedQuote {
		return fmt.Errorf("custodian: lock quote: %w", fixedpoint.ErrOverflow)
	}
	b.AvailableQuote -= amount
	b.LockedQuote += amount
	return nil
}

// UnlockBase reverses LockBase (cancellation/expiration refund).
func (c *Custodian) UnlockBase(a account.ID, amount uint64) error {
	b := c.entry(a)
	if b.LockedBase < amount {
		return fmt.Errorf("custodian: unlock base: %w", ErrInsufficientFunds)
	}
	if b.AvailableBase+amount < b.AvailableBase {
		return fmt.Errorf("custodian: unlock base: %w", fixedpoint.ErrOverflow)
	}
	b.LockedBase -= amount
	b.AvailableBase += amount
	return nil
}

// UnlockQuote reverses LockQuote.
func (c *Custodian) UnlockQuote(a account.ID, amount uint64) error {
	b := c.entry(a)
	if b.LockedQuote < amount {
		return fmt.Errorf("custodian: unlock quote: %w", ErrInsufficientFunds)
	}
	if b.AvailableQuote+amount < b.AvailableQuote {
		return fmt.Errorf("custodian: unlock quote: %w", fixedpoint.ErrOverflow)
	}
	b.LockedQuote -= amount
	b.AvailableQuote += amount
	return nil
}

// DebitLockedBase settles a fill: locked base leaves the ledger entirely
// (it is credited to the counterparty or fee pot by the caller), it is
// not returned to a's available balance.
func (c *Custodian) DebitLockedBase(a account.ID, amount uint64) error {
	b := c.entry(a)
	if b.LockedBase < amount {
		return fmt.Errorf("custodian: debit locked base: %w", ErrInsufficientFunds)
	}
	b.LockedBase -= amount
	return nil
}

// DebitLockedQuote is the quote-side counterpart of DebitLockedBase.
func (c *Custodian) DebitLockedQuote(a account.ID, amount uint64) error {
	b := c.entry(a)
	if b.LockedQuote < amount {
		return fmt.Errorf("custodian: debit locked quote: %w", ErrInsufficientFunds)
	}
	b.LockedQuote -= amount
	return nil
}

// CreditAvailableBase credits proceeds of a fill to a's available base.
func (c *Custodian) CreditAvailableBase(a account.ID, amount uint64) error {
	b := c.entry(a)
	sum, err := fixedpoint.CheckedAdd(b.AvailableBase, amount)
	if err != nil {
		return fmt.Errorf("custodian: credit available base: %w", err)
	}
	b.AvailableBase = sum
	return nil
}

// CreditAvailableQuote credits proceeds of a fill to a's available quote.
func (c *Custodian) CreditAvailableQuote(a account.ID, amount uint64) error {
	b := c.entry(a)
	sum, err := fixedpoint.CheckedAdd(b.AvailableQuote, amount)
	if err != nil {
		return fmt.Errorf("custodian: credit available quote: %w", err)
	}
	b.AvailableQuote = sum
	return nil
}
