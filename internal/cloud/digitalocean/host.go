package digitalocean

import (
	"context"
	"strconv"
)

// host is the per-droplet handle.
type host struct {
	account    *Account
	dropletID  int
	region     string
	costUSD    float64
	transferGB int
}

func (h *host) ID() string              { return strconv.Itoa(h.dropletID) }
func (h *host) Region() string          { return h.region }
func (h *host) MonthlyCostUSD() float64 { return h.costUSD }
func (h *host) MonthlyTransferGB() int  { return h.transferGB }

// Delete releases the droplet's reserved IP and destroys the droplet.
// Idempotent: deleting an already-gone host succeeds.
func (h *host) Delete(ctx context.Context) error {
	return h.account.DeleteServer(ctx, h.ID())
}
