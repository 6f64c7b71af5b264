package flowcontrol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeOfferer struct {
	credit  uint32
	offered uint32
}

func (f *fakeOfferer) OfferCredit(amount uint32) uint32 {
	if f.credit >= TransferThreshold {
		return 0
	}
	old := f.credit
	if f.credit+amount > MaxCredit {
		f.credit = MaxCredit
	} else {
		f.credit += amount
	}
	f.offered = f.credit - old
	return f.offered
}

func TestInitialCreditCapsAtMaxCredit(t *testing.T) {
	c := NewController()
	require.Equal(t, uint32(MaxCredit), c.InitialCredit())
}

func TestInitialCreditShrinksAsDebtGrows(t *testing.T) {
	c := NewController()
	c.AddDebt(MaxDebt - 50)
	require.Equal(t, uint32(50), c.InitialCredit())
}

func TestInitialCreditNeverNegative(t *testing.T) {
	c := NewController()
	c.AddDebt(MaxDebt + 100)
	require.Equal(t, uint32(0), c.InitialCredit())
}

func TestNeedsDistributionBelowMinDebt(t *testing.T) {
	c := NewController()
	require.True(t, c.NeedsDistribution())
	c.AddDebt(MinDebt)
	require.False(t, c.NeedsDistribution())
}

func TestDistributeStopsAtMaxDebt(t *testing.T) {
	c := NewController()
	a := &fakeOfferer{}
	b := &fakeOfferer{}
	d := &fakeOfferer{}
	c.Distribute([]CreditOfferer{a, b, d})

	require.Equal(t, MaxDebt, c.Debt())
	require.Equal(t, uint32(MaxCredit), a.credit)
	require.Equal(t, uint32(MaxCredit), b.credit)
	require.Equal(t, uint32(MaxDebt-2*MaxCredit), d.credit)
}

func TestDistributeSkipsSessionsAboveThreshold(t *testing.T) {
	c := NewController()
	a := &fakeOfferer{credit: TransferThreshold}
	b := &fakeOfferer{}
	c.Distribute([]CreditOfferer{a, b})

	require.Equal(t, uint32(0), a.offered)
	require.True(t, b.offered > 0)
}
