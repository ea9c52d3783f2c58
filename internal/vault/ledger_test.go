package vault_test

import (
	"errors"
	"testing"

	"StackFutures/internal/vault"
)

func TestLedger_DepositAndBalance(t *testing.T) {
	l := vault.NewLedger()
	v := l.OpenVault("alice")

	if err := l.Deposit(v, 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	bal, err := l.Balance(v)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 1_000_000 {
		t.Errorf("got %d, want 1_000_000", bal)
	}
}

func TestLedger_MoveRequiresCustody(t *testing.T) {
	l := vault.NewLedger()
	src := l.OpenVault("alice")
	dst := l.OpenVault("bob")
	l.Deposit(src, 500)

	wrong := l.IssueCustody("bob") // bound to bob, not to alice's vault
	err := l.ApplyBatch([]vault.Transfer{{Amount: 100, From: src, To: dst, Custody: wrong}})
	if !errors.Is(err, vault.ErrInvalidCustody) {
		t.Errorf("got %v, want ErrInvalidCustody", err)
	}

	right := l.IssueCustody("alice")
	if err := l.ApplyBatch([]vault.Transfer{{Amount: 100, From: src, To: dst, Custody: right}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if bal, _ := l.Balance(dst); bal != 100 {
		t.Errorf("dst: got %d, want 100", bal)
	}
}

func TestLedger_BatchIsAllOrNothing(t *testing.T) {
	l := vault.NewLedger()
	a := l.OpenVault("alice")
	b := l.OpenVault("bob")
	l.Deposit(a, 100)
	custody := l.IssueCustody("alice")

	// Second transfer overdraws; the first must not be applied either.
	err := l.ApplyBatch([]vault.Transfer{
		{Amount: 60, From: a, To: b, Custody: custody},
		{Amount: 60, From: a, To: b, Custody: custody},
	})
	if !errors.Is(err, vault.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}

	if bal, _ := l.Balance(a); bal != 100 {
		t.Errorf("a: got %d, want 100 (no partial effect)", bal)
	}
	if bal, _ := l.Balance(b); bal != 0 {
		t.Errorf("b: got %d, want 0 (no partial effect)", bal)
	}
}

func TestLedger_BatchProjectsSequentialBalances(t *testing.T) {
	// A deposit into a vault followed by a fee out of it must validate
	// against the projected (post-deposit) balance, exactly like the open
	// path: deposit -> margin vault -> fee vault.
	l := vault.NewLedger()
	src := l.OpenVault("alice")
	margin := l.OpenVault("deal-1")
	fee := l.OpenVault("market-1")
	l.Deposit(src, 1_000)

	alice := l.IssueCustody("alice")
	deal := l.IssueCustody("deal-1")

	err := l.ApplyBatch([]vault.Transfer{
		{Amount: 1_000, From: src, To: margin, Custody: alice},
		{Amount: 50, From: margin, To: fee, Custody: deal},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if bal, _ := l.Balance(margin); bal != 950 {
		t.Errorf("margin: got %d, want 950", bal)
	}
	if bal, _ := l.Balance(fee); bal != 50 {
		t.Errorf("fee: got %d, want 50", bal)
	}
}

func TestLedger_ReleaseOnlyWhenEmpty(t *testing.T) {
	l := vault.NewLedger()
	v := l.OpenVault("deal-1")
	custody := l.IssueCustody("deal-1")
	l.Deposit(v, 1)

	if err := l.Release(v, custody); !errors.Is(err, vault.ErrVaultNotEmpty) {
		t.Errorf("got %v, want ErrVaultNotEmpty", err)
	}

	// Drain and release
	sink := l.OpenVault("market-1")
	if err := l.ApplyBatch([]vault.Transfer{{Amount: 1, From: v, To: sink, Custody: custody}}); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := l.Release(v, custody); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := l.Balance(v); !errors.Is(err, vault.ErrVaultNotFound) {
		t.Errorf("got %v, want ErrVaultNotFound after release", err)
	}
}

func TestLedger_CustodyIsStablePerOwner(t *testing.T) {
	l := vault.NewLedger()
	c1 := l.IssueCustody("deal-9")
	c2 := l.IssueCustody("deal-9")
	if c1 != c2 {
		t.Error("custody token should be stable per owner")
	}
}

func TestLedger_ZeroAmountTransferIsNoOp(t *testing.T) {
	l := vault.NewLedger()
	a := l.OpenVault("alice")
	b := l.OpenVault("bob")
	custody := l.IssueCustody("alice")

	if err := l.ApplyBatch([]vault.Transfer{{Amount: 0, From: a, To: b, Custody: custody}}); err != nil {
		t.Fatalf("zero transfer should be skipped: %v", err)
	}
}

func TestLedger_JournalRecordsAppliedTransfers(t *testing.T) {
	l := vault.NewLedger()
	a := l.OpenVault("alice")
	b := l.OpenVault("bob")
	l.Deposit(a, 300)
	custody := l.IssueCustody("alice")

	err := l.ApplyBatch([]vault.Transfer{
		{Amount: 100, From: a, To: b, Custody: custody},
		{Amount: 0, From: a, To: b, Custody: custody}, // skipped, not journaled
		{Amount: 50, From: a, To: b, Custody: custody},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	applied := l.DrainJournal()
	if len(applied) != 2 {
		t.Fatalf("journal entries: got %d, want 2", len(applied))
	}
	if applied[0].Amount != 100 || applied[1].Amount != 50 {
		t.Errorf("amounts: got %d, %d, want 100, 50", applied[0].Amount, applied[1].Amount)
	}
	if applied[0].From != a || applied[0].To != b {
		t.Error("journal entry should carry source and destination vaults")
	}
	if applied[0].FromOwner != "alice" || applied[0].ToOwner != "bob" {
		t.Errorf("owners: got %q -> %q, want alice -> bob", applied[0].FromOwner, applied[0].ToOwner)
	}

	if again := l.DrainJournal(); again != nil {
		t.Errorf("second drain: got %d entries, want none", len(again))
	}
}

func TestLedger_JournalEmptyAfterFailedBatch(t *testing.T) {
	l := vault.NewLedger()
	a := l.OpenVault("alice")
	b := l.OpenVault("bob")
	l.Deposit(a, 100)
	custody := l.IssueCustody("alice")

	err := l.ApplyBatch([]vault.Transfer{
		{Amount: 60, From: a, To: b, Custody: custody},
		{Amount: 60, From: a, To: b, Custody: custody},
	})
	if !errors.Is(err, vault.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if applied := l.DrainJournal(); applied != nil {
		t.Errorf("rejected batch journaled %d entries, want none", len(applied))
	}
}
