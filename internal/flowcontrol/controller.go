// Package flowcontrol implements the server-global credit/debt budget
// that paces every concurrent upload, porting the module-level constants
// and Server._distribute_credit logic of dync/server.py.
package flowcontrol

import "time"

// Protocol constants, unchanged from the source implementation: the
// fixed chunk size clients must use, the per-session and global credit
// ceilings/floors, and the inactivity timeout.
const (
	ChunkSize         = 120 * 1024
	Timeout           = 3600 * time.Second
	MaxDebt           = 500
	MinDebt           = 300
	MaxCredit         = 200
	TransferThreshold = 100
)

// CreditOfferer is anything the controller can offer additional credit
// to during a distribution pass — satisfied by *coordinator.Upload.
// Implementations refuse (return 0) once their own credit already meets
// TransferThreshold, which is what lets a distribution pass skip
// well-stocked sessions.
type CreditOfferer interface {
	OfferCredit(amount uint32) uint32
}

// Controller tracks the single piece of global state the flow-control
// design needs: debt, the sum of credit granted but not yet returned.
type Controller struct {
	debt int
}

// NewController returns a Controller with zero debt.
func NewController() *Controller {
	return &Controller{}
}

// Debt returns the current global debt.
func (c *Controller) Debt() int {
	return c.debt
}

// NeedsDistribution reports whether the server loop should run a
// distribution pass this iteration.
func (c *Controller) NeedsDistribution() bool {
	return c.debt < MinDebt
}

// InitialCredit computes the credit a freshly created session starts
// with, mirroring `min(MAX_CREDIT, max(0, MAX_DEBT - debt))`. The
// returned amount is also added to debt by the caller via AddDebt.
func (c *Controller) InitialCredit() uint32 {
	room := MaxDebt - c.debt
	if room < 0 {
		room = 0
	}
	if room > MaxCredit {
		room = MaxCredit
	}
	return uint32(room)
}

// AddDebt increases debt by n (n may be negative to return credit).
func (c *Controller) AddDebt(n int) {
	c.debt += n
}

// Distribute walks sessions in insertion order, offering each up to
// MaxDebt-debt additional credit, and stops as soon as debt reaches
// MaxDebt. Ports Server._distribute_credit.
func (c *Controller) Distribute(sessions []CreditOfferer) {
	for _, s := range sessions {
		if c.debt >= MaxDebt {
			return
		}
		granted := s.OfferCredit(uint32(MaxDebt - c.debt))
		c.debt += int(granted)
	}
}
