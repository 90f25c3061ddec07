package lightsail

import (
	"context"
)

// host is the per-instance handle. ID is "region/name" since every Lightsail
// call is region-scoped.
type host struct {
	account    *Account
	name       string
	region     string
	costUSD    float64
	transferGB int
}

func (h *host) ID() string              { return h.region + "/" + h.name }
func (h *host) Region() string          { return h.region }
func (h *host) MonthlyCostUSD() float64 { return h.costUSD }
func (h *host) MonthlyTransferGB() int  { return h.transferGB }

// Delete releases the static IP and deletes the instance. Idempotent.
func (h *host) Delete(ctx context.Context) error {
	return h.account.DeleteServer(ctx, h.ID())
}
