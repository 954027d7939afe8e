package command

import (
	"context"
	"fmt"

	"vpn-access-bot/internal/notify"
)

// Notices turns workflow events into outbound messages. It implements
// workflow.Notifier.
type Notices struct {
	sender    notify.Sender
	approvers []string
}

func NewNotices(sender notify.Sender, approvers []string) *Notices {
	return &Notices{sender: sender, approvers: approvers}
}

func (n *Notices) broadcast(ctx context.Context, body string) {
	notify.Broadcast(ctx, n.sender, n.approvers, body)
}

func (n *Notices) push(ctx context.Context, to, body string) {
	notify.Broadcast(ctx, n.sender, []string{to}, body)
}

func (n *Notices) RequestSubmitted(ctx context.Context, requester string, requestID int64, targets []string) {
	n.broadcast(ctx, requestBroadcastText(requester, requestID, targets))
}

func (n *Notices) Approved(ctx context.Context, approver, requester string, requestID int64, credentialURL string) {
	n.push(ctx, requester, approveReplyText(requestID, credentialURL))
	n.broadcast(ctx, fmt.Sprintf("%s approved request #%d", approver, requestID))
}

func (n *Notices) Declined(ctx context.Context, requester string, requestID int64, targets []string, reason string) {
	n.push(ctx, requester, declineReplyText(requestID, targets, reason))
}

func (n *Notices) Revoked(ctx context.Context, approver, requester string, requestID int64, removed, remaining []string) {
	text := revokeText(approver, requester, removed)
	n.push(ctx, requester, text)
	n.broadcast(ctx, text)
}

func (n *Notices) ProvisioningFailed(ctx context.Context, requester string, requestID int64, err error) {
	n.broadcast(ctx, provisioningFailedText(requester, requestID, err))
}
