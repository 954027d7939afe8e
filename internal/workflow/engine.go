// Package workflow is the access-request state machine: submit, approve,
// decline and revoke, backed by the durable request store and the IP pool.
//
// A request starts pending, is acknowledged exactly once (approve or
// decline), and an approved request stays the requester's current grant
// until a later approval supersedes it. Credential URL and IP address stick
// to a requester's lineage: assigned on first approval, copied forward into
// every re-request, never regenerated.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/google/uuid"

	"vpn-access-bot/internal/ippool"
	"vpn-access-bot/internal/storage"
)

// CredentialIssuer materializes the downloadable credential bundle. The
// engine only produces the identifier and URL, never the bundle contents.
type CredentialIssuer interface {
	Issue(ctx context.Context, requester, credentialID string) error
}

// AccessEnforcer applies the current target list to the network. Always
// invoked with the full list, not a delta.
type AccessEnforcer interface {
	Apply(ctx context.Context, requester string, ip netip.Addr, targets []string) error
}

// Notifier receives workflow events to push to requesters and the approver
// set. Implementations must not block the caller on delivery problems;
// delivery is best effort.
type Notifier interface {
	RequestSubmitted(ctx context.Context, requester string, requestID int64, targets []string)
	Approved(ctx context.Context, approver, requester string, requestID int64, credentialURL string)
	Declined(ctx context.Context, requester string, requestID int64, targets []string, reason string)
	Revoked(ctx context.Context, approver, requester string, requestID int64, removed, remaining []string)
	ProvisioningFailed(ctx context.Context, requester string, requestID int64, err error)
}

type Params struct {
	Store    storage.Provider
	Pool     ippool.Pool
	Issuer   CredentialIssuer
	Enforcer AccessEnforcer
	Notifier Notifier

	Approvers []string
	// Service catalog: name -> description.
	Services map[string]string
	// Credential download URL template with {requester} and
	// {credential_id} placeholders.
	CredentialURL string
}

type Engine struct {
	store    storage.Provider
	pool     ippool.Pool
	issuer   CredentialIssuer
	enforcer AccessEnforcer
	notifier Notifier

	approvers     []string
	services      map[string]string
	credentialURL string

	logger *slog.Logger
}

func New(p Params) *Engine {
	return &Engine{
		store:         p.Store,
		pool:          p.Pool,
		issuer:        p.Issuer,
		enforcer:      p.Enforcer,
		notifier:      p.Notifier,
		approvers:     p.Approvers,
		services:      p.Services,
		credentialURL: p.CredentialURL,
		logger:        slog.With("component", "workflow"),
	}
}

func newCredentialID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (e *Engine) isApprover(identity string) bool {
	for _, a := range e.approvers {
		if a == identity {
			return true
		}
	}
	return false
}

// Submit files a new access request. The credential URL and IP address of
// the requester's latest approved grant, if any, are copied onto the new
// row so approval never re-provisions an existing lineage.
func (e *Engine) Submit(ctx context.Context, requester string, targets []string) (int64, error) {
	if len(targets) == 0 {
		return 0, fmt.Errorf("%w: no services given", ErrValidation)
	}
	for _, target := range targets {
		if _, ok := e.services[target]; !ok {
			return 0, &UnknownServiceError{Name: target}
		}
	}

	var requestID int64
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		if id, ok, err := tx.PendingRequest(requester); err != nil {
			return err
		} else if ok {
			return &PendingExistsError{RequestID: id}
		}

		grant, err := tx.LatestApprovedGrant(requester)
		if err != nil {
			return err
		}

		var credentialURL, ip *string
		if grant != nil {
			if sameTargetSet(grant.Targets, targets) {
				return fmt.Errorf("%w: already granted access to %s",
					ErrNoChange, strings.Join(grant.Targets, " "))
			}
			credentialURL = grant.CredentialURL
			ip = grant.IPAddr
		}

		requestID, err = tx.CreateRequest(requester, targets, credentialURL, ip)
		return err
	})
	if err != nil {
		var pending *storage.PendingExistsError
		if errors.As(err, &pending) {
			return 0, &PendingExistsError{RequestID: pending.RequestID}
		}
		return 0, err
	}

	e.logger.Info("Request submitted", "request_id", requestID, "requester", requester, "targets", targets)
	e.notifier.RequestSubmitted(ctx, requester, requestID, targets)
	return requestID, nil
}

// ApproveResult describes a completed approval.
type ApproveResult struct {
	RequestID     int64
	Requester     string
	Targets       []string
	CredentialURL string
	IP            netip.Addr

	// Provisioned is true when this approval allocated a new address and
	// credential rather than reusing the lineage's existing ones.
	Provisioned bool
}

// Approve grants a pending request. First approval of a requester allocates
// the lowest free pool address and a credential; later approvals reuse what
// the lineage already holds and only supersede the prior grant.
func (e *Engine) Approve(ctx context.Context, approver string, requestID int64) (*ApproveResult, error) {
	if !e.isApprover(approver) {
		return nil, fmt.Errorf("%w: %s is not an approver", ErrNotAllowed, approver)
	}

	var (
		res          ApproveResult
		credentialID string
	)
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		row, err := tx.GetPending(requestID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: request #%d does not exist or is already resolved", ErrNotFound, requestID)
			}
			return err
		}

		res.RequestID = requestID
		res.Requester = row.Requester
		res.Targets = row.Targets()

		if row.CredentialURL != nil {
			// Lineage already provisioned: supersede and mark approved,
			// keep credential and address as they are.
			res.CredentialURL = *row.CredentialURL
			res.IP, _ = row.IP()
			if err := tx.Approve(requestID, nil, nil); err != nil {
				return err
			}
			return tx.SetProvisionState(requestID, storage.ProvisionStatePending)
		}

		assigned, err := tx.AssignedAddresses()
		if err != nil {
			return err
		}
		addr, err := ippool.Allocate(e.pool, assigned)
		if err != nil {
			return err
		}

		credentialID = newCredentialID()
		url := expandCredentialURL(e.credentialURL, row.Requester, credentialID)
		ipStr := addr.String()

		res.CredentialURL = url
		res.IP = addr
		res.Provisioned = true

		if err := tx.Approve(requestID, &url, &ipStr); err != nil {
			return err
		}
		return tx.SetProvisionState(requestID, storage.ProvisionStatePending)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Request approved",
		"request_id", requestID, "requester", res.Requester, "approver", approver,
		"ip", res.IP.String(), "provisioned", res.Provisioned)

	// Collaborators run after the commit; their failure must not undo the
	// approval. The row carries the outcome instead.
	var provisionErr error
	if res.Provisioned {
		if err := e.issuer.Issue(ctx, res.Requester, credentialID); err != nil {
			provisionErr = fmt.Errorf("issue credential: %w", err)
		}
	}
	if provisionErr == nil {
		if err := e.enforcer.Apply(ctx, res.Requester, res.IP, res.Targets); err != nil {
			provisionErr = fmt.Errorf("apply access: %w", err)
		}
	}
	e.recordProvisionOutcome(ctx, requestID, res.Requester, provisionErr)

	e.notifier.Approved(ctx, approver, res.Requester, requestID, res.CredentialURL)
	return &res, nil
}

// DeclineResult describes a declined request.
type DeclineResult struct {
	RequestID int64
	Requester string
	Targets   []string
}

func (e *Engine) Decline(ctx context.Context, approver string, requestID int64, reason string) (*DeclineResult, error) {
	if !e.isApprover(approver) {
		return nil, fmt.Errorf("%w: %s is not an approver", ErrNotAllowed, approver)
	}

	var res DeclineResult
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		row, err := tx.GetPending(requestID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: request #%d does not exist or is already resolved", ErrNotFound, requestID)
			}
			return err
		}
		res.RequestID = requestID
		res.Requester = row.Requester
		res.Targets = row.Targets()
		return tx.Decline(requestID)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Request declined", "request_id", requestID, "requester", res.Requester, "approver", approver)
	e.notifier.Declined(ctx, res.Requester, requestID, res.Targets, reason)
	return &res, nil
}

// RevokeResult describes an in-place target removal on an approved grant.
type RevokeResult struct {
	RequestID int64
	Requester string
	Removed   []string
	Remaining []string
	IP        netip.Addr
}

// Revoke shrinks the target list of a currently approved grant in place.
// With all set, every target is removed. The grant row itself stays
// approved; only its target list changes.
func (e *Engine) Revoke(ctx context.Context, approver string, requestID int64, removeTargets []string, all bool) (*RevokeResult, error) {
	if !e.isApprover(approver) {
		return nil, fmt.Errorf("%w: %s is not an approver", ErrNotAllowed, approver)
	}
	if !all && len(removeTargets) == 0 {
		return nil, fmt.Errorf("%w: no targets to revoke given", ErrValidation)
	}

	var res RevokeResult
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		row, err := tx.GetApproved(requestID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: no approved request #%d", ErrNotFound, requestID)
			}
			return err
		}

		var remaining []string
		if all {
			res.Removed = row.Targets()
			remaining = nil
		} else {
			res.Removed = removeTargets
			remaining = subtractTargets(row.Targets(), removeTargets)
		}

		res.RequestID = requestID
		res.Requester = row.Requester
		res.Remaining = remaining
		res.IP, _ = row.IP()

		return tx.SetTargets(requestID, remaining)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Access revoked",
		"request_id", requestID, "requester", res.Requester, "approver", approver,
		"removed", res.Removed, "remaining", res.Remaining)

	var provisionErr error
	if err := e.enforcer.Apply(ctx, res.Requester, res.IP, res.Remaining); err != nil {
		provisionErr = fmt.Errorf("apply access: %w", err)
	}
	e.recordProvisionOutcome(ctx, requestID, res.Requester, provisionErr)

	e.notifier.Revoked(ctx, approver, res.Requester, requestID, res.Removed, res.Remaining)
	return &res, nil
}

// ListActive returns every currently approved grant.
func (e *Engine) ListActive(ctx context.Context) ([]storage.Request, error) {
	var rows []storage.Request
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		rows, err = tx.ListApproved()
		return err
	})
	return rows, err
}

// Credential returns the requester's credential download URL, if the
// requester holds an approved grant with one.
func (e *Engine) Credential(ctx context.Context, requester string) (string, bool, error) {
	var (
		url string
		ok  bool
	)
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		url, ok, err = tx.CredentialFor(requester)
		return err
	})
	return url, ok, err
}

// recordProvisionOutcome writes the collaborator outcome onto the row and
// alerts approvers on failure. A failed external call is never treated as
// success: the row keeps provision_state=failed until an operator re-runs
// provisioning out of band.
func (e *Engine) recordProvisionOutcome(ctx context.Context, requestID int64, requester string, provisionErr error) {
	state := storage.ProvisionStateOK
	if provisionErr != nil {
		state = storage.ProvisionStateFailed
		e.logger.Error("Provisioning failed", "request_id", requestID, "requester", requester, "error", provisionErr)
	}

	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.SetProvisionState(requestID, state)
	})
	if err != nil {
		e.logger.Error("Failed to record provisioning outcome", "request_id", requestID, "error", err)
	}

	if provisionErr != nil {
		e.notifier.ProvisioningFailed(ctx, requester, requestID, provisionErr)
	}
}

func expandCredentialURL(template, requester, credentialID string) string {
	return strings.NewReplacer(
		"{requester}", requester,
		"{credential_id}", credentialID,
	).Replace(template)
}

func sameTargetSet(a, b []string) bool {
	setA, setB := toSet(a), toSet(b)
	if len(setA) != len(setB) {
		return false
	}
	for t := range setB {
		if _, ok := setA[t]; !ok {
			return false
		}
	}
	return true
}

// subtractTargets removes every element of remove from targets; names not
// present are silently ignored.
func subtractTargets(targets, remove []string) []string {
	drop := toSet(remove)
	var out []string
	for _, t := range targets {
		if _, ok := drop[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

func toSet(targets []string) map[string]struct{} {
	set := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		set[t] = struct{}{}
	}
	return set
}
