package storage

import (
	"net/netip"
	"strings"
	"time"
)

// ProvisionState is the outcome of the last provisioning action (credential
// issue / access enforcement) taken for this row. Empty means no such
// action ever ran for the row (it was declined, or never approved).
type ProvisionState string

const (
	ProvisionStateNone    ProvisionState = ""
	ProvisionStatePending ProvisionState = "pending"
	ProvisionStateOK      ProvisionState = "ok"
	ProvisionStateFailed  ProvisionState = "failed"
)

// Request is one access request row. Rows are never deleted: a declined or
// superseded row stays around as history, and its ip_addr keeps the address
// reserved for the requester's lineage.
type Request struct {
	ID             int64          `db:"id"`
	CreatedAt      time.Time      `db:"created_at"`
	Requester      string         `db:"requester"`
	AccessTargets  string         `db:"access_targets"`
	Ack            bool           `db:"ack"`
	Approved       bool           `db:"approved"`
	CredentialURL  *string        `db:"credential_url"`
	IPAddr         *string        `db:"ip_addr"`
	ProvisionState ProvisionState `db:"provision_state"`
}

// Targets splits the stored space-joined target list.
func (r *Request) Targets() []string {
	return strings.Fields(r.AccessTargets)
}

func (r *Request) IP() (netip.Addr, bool) {
	if r.IPAddr == nil {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(*r.IPAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// Grant is the slice of an approved row that submit copies forward into a
// re-request.
type Grant struct {
	RequestID     int64
	Targets       []string
	CredentialURL *string
	IPAddr        *string
}

// JoinTargets is the storage encoding for a target set.
func JoinTargets(targets []string) string {
	return strings.Join(targets, " ")
}
