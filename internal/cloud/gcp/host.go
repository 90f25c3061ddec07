package gcp

import (
	"context"
)

// host is the per-instance handle. ID is "zone/name", the pair every
// instance call is scoped by.
type host struct {
	account *Account
	name    string
	zone    string
	costUSD float64
}

func (h *host) ID() string              { return h.zone + "/" + h.name }
func (h *host) Region() string          { return zoneRegion(h.zone) }
func (h *host) MonthlyCostUSD() float64 { return h.costUSD }

// MonthlyTransferGB returns 0: Compute Engine bills egress per byte rather
// than capping it.
func (h *host) MonthlyTransferGB() int { return 0 }

// Delete removes the static address, the per-instance firewall rule and the
// instance, in that order. Idempotent.
func (h *host) Delete(ctx context.Context) error {
	return h.account.DeleteServer(ctx, h.ID())
}
