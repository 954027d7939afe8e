package storage

import (
	"context"
	"log/slog"
	"net/netip"

	"vpn-access-bot/internal/config"
)

// Provider is the durable request store. All request operations run on a Tx
// obtained through WithTx so every read-modify-write sequence is atomic.
type Provider interface {
	Close() error

	// WithTx runs fn inside a transaction. A non-nil error from fn rolls
	// the transaction back and is returned as-is.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the request table API, scoped to one transaction.
type Tx interface {
	// CreateRequest inserts a new pending row and returns its id.
	CreateRequest(requester string, targets []string, credentialURL *string, ip *string) (int64, error)

	// PendingRequest returns the id of the requester's unacknowledged
	// request, if one exists.
	PendingRequest(requester string) (int64, bool, error)

	// LatestApprovedGrant returns the most recent approved row for the
	// requester, or nil.
	LatestApprovedGrant(requester string) (*Grant, error)

	// AssignedAddresses returns every non-null ip_addr across all rows
	// regardless of status. Once issued to a lineage, an address stays
	// reserved even on declined or superseded rows.
	AssignedAddresses() ([]netip.Addr, error)

	// GetPending fetches a pending (unacknowledged) row by id.
	GetPending(id int64) (*Request, error)

	// GetApproved fetches a currently approved row by id.
	GetApproved(id int64) (*Request, error)

	// Approve supersedes every other row of the same requester
	// (approved=0), then marks this row acknowledged and approved. When
	// credentialURL/ip are non-nil they are written onto the row; they are
	// immutable afterwards.
	Approve(id int64, credentialURL *string, ip *string) error

	Decline(id int64) error

	// SetTargets rewrites the target list in place; ack/approved untouched.
	SetTargets(id int64, targets []string) error

	SetProvisionState(id int64, state ProvisionState) error

	ListApproved() ([]Request, error)

	ListPending() ([]Request, error)

	// CredentialFor returns the credential URL from the requester's
	// approved row, if any.
	CredentialFor(requester string) (string, bool, error)
}

func NewProvider(config *config.Storage) Provider {
	switch {
	case config.SQLite != nil:
		provider, err := NewSQLiteProvider(config)
		if err != nil {
			slog.Error("Failed to open sqlite storage", "error", err)
			return nil
		}
		if err := provider.runMigrations("sqlite3"); err != nil {
			slog.Error("Failed to run migrations", "error", err)
			return nil
		}
		return provider

	default:
		slog.Error("Unsupported storage configuration", "config", config)
	}

	return nil
}
