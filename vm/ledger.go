package vm

import (
	"math"

	"github.com/tolelom/pantheon/core"
	"github.com/tolelom/pantheon/gameerr"
)

// Debit removes amount from addr's balance.
func Debit(st core.State, addr string, amount uint64) error {
	acc, err := st.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Balance < amount {
		return gameerr.Newf(gameerr.CodeInsufficientBalance,
			"%s has %d, needs %d", addr, acc.Balance, amount).WithMeta("address", addr)
	}
	acc.Balance -= amount
	return st.SetAccount(acc)
}

// Credit adds amount to addr's balance. An overflowing credit is a failed
// payment.
func Credit(st core.State, addr string, amount uint64) error {
	acc, err := st.GetAccount(addr)
	if err != nil {
		return err
	}
	if acc.Balance > math.MaxUint64-amount {
		return gameerr.Newf(gameerr.CodePaymentFailed, "crediting %d to %s overflows", amount, addr)
	}
	acc.Balance += amount
	return st.SetAccount(acc)
}

// Move transfers amount from one account to another. Zero amounts are a
// no-op.
func Move(st core.State, from, to string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := Debit(st, from, amount); err != nil {
		return err
	}
	return Credit(st, to, amount)
}
