// Package command parses inbound chat commands, drives the workflow engine
// and renders the reply for the sender. Every workflow failure becomes a
// rejection text; nothing escapes as a fault.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"vpn-access-bot/internal/ippool"
	"vpn-access-bot/internal/storage"
	"vpn-access-bot/internal/workflow"
)

// The revoke-everything sentinel, as typed by approvers.
const revokeAllSentinel = "#all"

type Dispatcher struct {
	engine    *workflow.Engine
	services  map[string]string
	approvers []string
	logger    *slog.Logger
}

func NewDispatcher(engine *workflow.Engine, services map[string]string, approvers []string) *Dispatcher {
	return &Dispatcher{
		engine:    engine,
		services:  services,
		approvers: approvers,
		logger:    slog.With("component", "command"),
	}
}

func (d *Dispatcher) isApprover(sender string) bool {
	for _, a := range d.approvers {
		if a == sender {
			return true
		}
	}
	return false
}

// Dispatch handles one inbound message and returns the reply for the
// sender. Pushes to other parties (approver broadcasts, requester
// notifications) happen inside the engine via its notifier.
func (d *Dispatcher) Dispatch(ctx context.Context, sender, body string) string {
	tokens := strings.Fields(strings.TrimSpace(body))
	if len(tokens) == 0 {
		return unknownCommandText
	}

	verb, args := tokens[0], tokens[1:]
	d.logger.Debug("Command received", "sender", sender, "verb", verb)

	switch verb {
	case "help":
		return helpText(d.services, d.isApprover(sender))
	case "list":
		return d.handleList(ctx)
	case "mykey":
		return d.handleMyKey(ctx, sender)
	case "request":
		return d.handleRequest(ctx, sender, args)
	case "approve":
		return d.handleApprove(ctx, sender, args)
	case "decline":
		return d.handleDecline(ctx, sender, args)
	case "revoke":
		return d.handleRevoke(ctx, sender, args)
	default:
		return unknownCommandText
	}
}

func (d *Dispatcher) handleRequest(ctx context.Context, sender string, targets []string) string {
	if len(targets) == 0 {
		return "You need to give a list of services."
	}
	requestID, err := d.engine.Submit(ctx, sender, targets)
	if err != nil {
		return d.rejectionText(err)
	}
	return fmt.Sprintf("Request #%d filed. Wait for approval.", requestID)
}

func (d *Dispatcher) handleApprove(ctx context.Context, sender string, args []string) string {
	requestID, ok := parseRequestID(args)
	if !ok {
		return "You need to give a request id."
	}
	res, err := d.engine.Approve(ctx, sender, requestID)
	if err != nil {
		if errors.Is(err, ippool.ErrPoolExhausted) {
			return fmt.Sprintf("Request #%d cannot be approved. No free IP addresses.", requestID)
		}
		return d.rejectionText(err)
	}
	return fmt.Sprintf("Request #%d approved.", res.RequestID)
}

func (d *Dispatcher) handleDecline(ctx context.Context, sender string, args []string) string {
	requestID, ok := parseRequestID(args)
	if !ok {
		return "You need to give a request id."
	}
	reason := strings.Join(args[1:], " ")
	res, err := d.engine.Decline(ctx, sender, requestID, reason)
	if err != nil {
		return d.rejectionText(err)
	}
	return fmt.Sprintf("Request #%d declined.", res.RequestID)
}

func (d *Dispatcher) handleRevoke(ctx context.Context, sender string, args []string) string {
	requestID, ok := parseRequestID(args)
	if !ok {
		return "You need to give a request id."
	}
	removeTargets := args[1:]
	if len(removeTargets) == 0 {
		return "You need to give a list of services to revoke."
	}

	all := removeTargets[0] == revokeAllSentinel
	if all {
		removeTargets = nil
	}

	res, err := d.engine.Revoke(ctx, sender, requestID, removeTargets, all)
	if err != nil {
		return d.rejectionText(err)
	}
	if len(res.Remaining) == 0 {
		return fmt.Sprintf("Request #%d: all access revoked.", res.RequestID)
	}
	return fmt.Sprintf("Request #%d: access now limited to %s.", res.RequestID, strings.Join(res.Remaining, " "))
}

func (d *Dispatcher) handleList(ctx context.Context) string {
	rows, err := d.engine.ListActive(ctx)
	if err != nil {
		return d.rejectionText(err)
	}

	var b strings.Builder
	b.WriteString("Active users and their access:")
	for _, row := range rows {
		ip := ""
		if row.IPAddr != nil {
			ip = *row.IPAddr
		}
		fmt.Fprintf(&b, "\n  #%d %s (%s): %s", row.ID, row.Requester, ip, row.AccessTargets)
		if row.ProvisionState == storage.ProvisionStateFailed {
			b.WriteString(" [provisioning failed]")
		}
	}
	return b.String()
}

func (d *Dispatcher) handleMyKey(ctx context.Context, sender string) string {
	url, ok, err := d.engine.Credential(ctx, sender)
	if err != nil {
		return d.rejectionText(err)
	}
	if !ok {
		return "You have nothing provisioned."
	}
	return fmt.Sprintf("Your key download link: %s", url)
}

// rejectionText maps a workflow error to the reply for the invoking actor.
func (d *Dispatcher) rejectionText(err error) string {
	var unknownService *workflow.UnknownServiceError
	if errors.As(err, &unknownService) {
		return fmt.Sprintf("Never heard of %q. Send \"help\" for the service list.", unknownService.Name)
	}

	var pending *workflow.PendingExistsError
	if errors.As(err, &pending) {
		return fmt.Sprintf("Your previous request #%d is still pending. Wait for a decision.", pending.RequestID)
	}

	switch {
	case errors.Is(err, workflow.ErrNoChange):
		return "The requested access level matches what you already have."
	case errors.Is(err, workflow.ErrNotAllowed):
		return "You cannot do that."
	case errors.Is(err, workflow.ErrNotFound):
		return "That request does not exist or is already resolved."
	case errors.Is(err, workflow.ErrValidation):
		return fmt.Sprintf("Invalid command: %v.", err)
	}

	d.logger.Error("Command failed", "error", err)
	return "Something went wrong, try again later."
}

func parseRequestID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}
