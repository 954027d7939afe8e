package command

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"sync"
	"testing"

	"vpn-access-bot/internal/config"
	"vpn-access-bot/internal/ippool"
	"vpn-access-bot/internal/storage"
	"vpn-access-bot/internal/workflow"
)

const (
	testApprover = "boss@example.com"
	testUser     = "alice@example.com"
)

// memorySender collects outbound messages instead of mailing them.
type memorySender struct {
	mu       sync.Mutex
	messages map[string][]string // recipient -> bodies
}

func newMemorySender() *memorySender {
	return &memorySender{messages: make(map[string][]string)}
}

func (m *memorySender) Send(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[to] = append(m.messages[to], body)
	return nil
}

func (m *memorySender) lastTo(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	bodies := m.messages[to]
	if len(bodies) == 0 {
		return ""
	}
	return bodies[len(bodies)-1]
}

func (m *memorySender) anyTo(to, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, body := range m.messages[to] {
		if strings.Contains(body, substr) {
			return true
		}
	}
	return false
}

type nopIssuer struct{}

func (nopIssuer) Issue(context.Context, string, string) error { return nil }

type nopEnforcer struct{}

func (nopEnforcer) Apply(context.Context, string, netip.Addr, []string) error { return nil }

type failingIssuer struct{}

func (failingIssuer) Issue(context.Context, string, string) error {
	return errors.New("make-key failed")
}

func newTestDispatcher(t *testing.T, poolSize int, issuer workflow.CredentialIssuer) (*Dispatcher, *memorySender) {
	t.Helper()

	store := storage.NewProvider(&config.Storage{
		SQLite: &config.SQLiteStorage{Path: ":memory:"},
	})
	if store == nil {
		t.Fatal("failed to initialize test storage")
	}
	t.Cleanup(func() { store.Close() })

	pool, err := ippool.New("10.0.0.1", poolSize)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}

	services := map[string]string{"web": "web servers", "db": "databases"}
	approvers := []string{testApprover}
	sender := newMemorySender()

	engine := workflow.New(workflow.Params{
		Store:         store,
		Pool:          pool,
		Issuer:        issuer,
		Enforcer:      nopEnforcer{},
		Notifier:      NewNotices(sender, approvers),
		Approvers:     approvers,
		Services:      services,
		CredentialURL: "https://vpn.example.com/keys/{requester}/{credential_id}.zip",
	})

	return NewDispatcher(engine, services, approvers), sender
}

func TestDispatch_Help(t *testing.T) {
	d, _ := newTestDispatcher(t, 4, nopIssuer{})
	ctx := context.Background()

	reply := d.Dispatch(ctx, testUser, "help")
	if !strings.Contains(reply, "web - web servers") || !strings.Contains(reply, "db - databases") {
		t.Errorf("help should list the service catalog:\n%s", reply)
	}
	if strings.Contains(reply, "revoke") {
		t.Error("plain users must not see approver commands")
	}

	reply = d.Dispatch(ctx, testApprover, "help")
	if !strings.Contains(reply, "revoke") || !strings.Contains(reply, "approve") {
		t.Errorf("approver help should include approver commands:\n%s", reply)
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t, 4, nopIssuer{})
	ctx := context.Background()

	for _, body := range []string{"", "   ", "frobnicate", "requesting web"} {
		if reply := d.Dispatch(ctx, testUser, body); reply != unknownCommandText {
			t.Errorf("Dispatch(%q) = %q, want unknown-command text", body, reply)
		}
	}
}

func TestDispatch_RequestApproveFlow(t *testing.T) {
	d, sender := newTestDispatcher(t, 4, nopIssuer{})
	ctx := context.Background()

	reply := d.Dispatch(ctx, testUser, "request web db")
	if !strings.Contains(reply, "#1") {
		t.Fatalf("expected request id in reply, got %q", reply)
	}

	// Approvers got the broadcast with the approve/decline hint.
	broadcast := sender.lastTo(testApprover)
	if !strings.Contains(broadcast, testUser) || !strings.Contains(broadcast, "approve 1") {
		t.Errorf("unexpected approver broadcast: %q", broadcast)
	}

	reply = d.Dispatch(ctx, testApprover, "approve 1")
	if reply != "Request #1 approved." {
		t.Errorf("unexpected approve reply: %q", reply)
	}

	// The requester got the key link.
	pushed := sender.lastTo(testUser)
	if !strings.Contains(pushed, "https://vpn.example.com/keys/"+testUser+"/") {
		t.Errorf("requester should receive the download link, got %q", pushed)
	}

	reply = d.Dispatch(ctx, testUser, "mykey")
	if !strings.Contains(reply, "https://vpn.example.com/keys/") {
		t.Errorf("mykey should return the link, got %q", reply)
	}

	reply = d.Dispatch(ctx, testUser, "list")
	if !strings.Contains(reply, testUser) || !strings.Contains(reply, "web db") {
		t.Errorf("list should show the active grant, got %q", reply)
	}
}

func TestDispatch_RequestRejections(t *testing.T) {
	d, _ := newTestDispatcher(t, 4, nopIssuer{})
	ctx := context.Background()

	if reply := d.Dispatch(ctx, testUser, "request"); reply != "You need to give a list of services." {
		t.Errorf("unexpected reply: %q", reply)
	}
	if reply := d.Dispatch(ctx, testUser, "request gopher"); !strings.Contains(reply, `"gopher"`) {
		t.Errorf("unknown service reply should name it: %q", reply)
	}

	d.Dispatch(ctx, testUser, "request web")
	reply := d.Dispatch(ctx, testUser, "request db")
	if !strings.Contains(reply, "#1") || !strings.Contains(reply, "pending") {
		t.Errorf("duplicate request should point at the pending id: %q", reply)
	}
}

func TestDispatch_NoOpRequest(t *testing.T) {
	d, _ := newTestDispatcher(t, 4, nopIssuer{})
	ctx := context.Background()

	d.Dispatch(ctx, testUser, "request web")
	d.Dispatch(ctx, testApprover, "approve 1")

	reply := d.Dispatch(ctx, testUser, "request web")
	if reply != "The requested access level matches what you already have." {
		t.Errorf("unexpected no-op reply: %q", reply)
	}
}

func TestDispatch_Authorization(t *testing.T) {
	d, _ := newTestDispatcher(t, 4, nopIssuer{})
	ctx := context.Background()

	d.Dispatch(ctx, testUser, "request web")

	for _, body := range []string{"approve 1", "decline 1", "revoke 1 web"} {
		if reply := d.Dispatch(ctx, testUser, body); reply != "You cannot do that." {
			t.Errorf("Dispatch(%q) by non-approver = %q", body, reply)
		}
	}
}

func TestDispatch_DeclineWithReason(t *testing.T) {
	d, sender := newTestDispatcher(t, 4, nopIssuer{})
	ctx := context.Background()

	d.Dispatch(ctx, testUser, "request web")
	reply := d.Dispatch(ctx, testApprover, "decline 1 not this month")
	if reply != "Request #1 declined." {
		t.Errorf("unexpected decline reply: %q", reply)
	}

	pushed := sender.lastTo(testUser)
	if !strings.Contains(pushed, "declined") || !strings.Contains(pushed, "not this month") {
		t.Errorf("requester should see the decline reason, got %q", pushed)
	}
}

func TestDispatch_RevokeAll(t *testing.T) {
	d, _ := newTestDispatcher(t, 4, nopIssuer{})
	ctx := context.Background()

	d.Dispatch(ctx, testUser, "request web db")
	d.Dispatch(ctx, testApprover, "approve 1")

	if reply := d.Dispatch(ctx, testApprover, "revoke 1"); reply != "You need to give a list of services to revoke." {
		t.Errorf("unexpected reply: %q", reply)
	}

	reply := d.Dispatch(ctx, testApprover, "revoke 1 db")
	if reply != "Request #1: access now limited to web." {
		t.Errorf("unexpected reply: %q", reply)
	}

	reply = d.Dispatch(ctx, testApprover, "revoke 1 #all")
	if reply != "Request #1: all access revoked." {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestDispatch_PoolExhausted(t *testing.T) {
	d, _ := newTestDispatcher(t, 1, nopIssuer{})
	ctx := context.Background()

	d.Dispatch(ctx, testUser, "request web")
	d.Dispatch(ctx, testApprover, "approve 1")

	d.Dispatch(ctx, "bob@example.com", "request web")
	reply := d.Dispatch(ctx, testApprover, "approve 2")
	if reply != "Request #2 cannot be approved. No free IP addresses." {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestDispatch_MyKeyEmpty(t *testing.T) {
	d, _ := newTestDispatcher(t, 4, nopIssuer{})
	ctx := context.Background()

	if reply := d.Dispatch(ctx, testUser, "mykey"); reply != "You have nothing provisioned." {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestDispatch_BadRequestID(t *testing.T) {
	d, _ := newTestDispatcher(t, 4, nopIssuer{})
	ctx := context.Background()

	for _, body := range []string{"approve", "approve x", "approve -1", "decline", "revoke zzz web"} {
		reply := d.Dispatch(ctx, testApprover, body)
		if reply != "You need to give a request id." {
			t.Errorf("Dispatch(%q) = %q", body, reply)
		}
	}
}

func TestDispatch_ListShowsProvisioningFailure(t *testing.T) {
	d, sender := newTestDispatcher(t, 4, failingIssuer{})
	ctx := context.Background()

	d.Dispatch(ctx, testUser, "request web")
	reply := d.Dispatch(ctx, testApprover, "approve 1")
	if reply != "Request #1 approved." {
		t.Fatalf("approval should still go through, got %q", reply)
	}

	if !sender.anyTo(testApprover, "failed") {
		t.Errorf("approvers should hear about the provisioning failure, got %v", sender.messages[testApprover])
	}

	listReply := d.Dispatch(ctx, testApprover, "list")
	if !strings.Contains(listReply, "[provisioning failed]") {
		t.Errorf("list should flag failed provisioning, got %q", listReply)
	}
}
