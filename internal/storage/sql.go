package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/jmoiron/sqlx"

	"vpn-access-bot/internal/config"
)

var ErrNotFound = errors.New("request not found")

// PendingExistsError reports that the requester already has an open request.
type PendingExistsError struct {
	RequestID int64
}

func (e *PendingExistsError) Error() string {
	return fmt.Sprintf("pending request #%d already exists", e.RequestID)
}

type SQLProvider struct {
	db *sqlx.DB

	config *config.Storage

	logger *slog.Logger
}

func NewSQLProvider(config *config.Storage, driverName string, dataSource string) (*SQLProvider, error) {
	db, err := sqlx.Open(driverName, dataSource)
	if err != nil {
		return nil, err
	}

	// sqlite has a single writer; funnel everything through one connection
	// so transactions serialize instead of fighting over the file lock.
	db.SetMaxOpenConns(1)

	logger := slog.With("component", "storage")

	return &SQLProvider{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

func (p *SQLProvider) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *SQLProvider) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	txx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&sqlTx{ctx: ctx, tx: txx}); err != nil {
		if rbErr := txx.Rollback(); rbErr != nil {
			p.logger.Error("Transaction rollback failed", "error", rbErr)
		}
		return err
	}

	return txx.Commit()
}

type sqlTx struct {
	ctx context.Context
	tx  *sqlx.Tx
}

func (t *sqlTx) CreateRequest(requester string, targets []string, credentialURL *string, ip *string) (int64, error) {
	if id, ok, err := t.PendingRequest(requester); err != nil {
		return 0, err
	} else if ok {
		return 0, &PendingExistsError{RequestID: id}
	}

	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO requests (requester, access_targets, credential_url, ip_addr) VALUES (?, ?, ?, ?)`,
		requester, JoinTargets(targets), credentialURL, ip)
	if err != nil {
		return 0, fmt.Errorf("insert request: %w", err)
	}
	return res.LastInsertId()
}

func (t *sqlTx) PendingRequest(requester string) (int64, bool, error) {
	var id int64
	err := t.tx.GetContext(t.ctx, &id,
		`SELECT id FROM requests WHERE requester = ? AND ack = 0`, requester)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query pending request: %w", err)
	}
	return id, true, nil
}

func (t *sqlTx) LatestApprovedGrant(requester string) (*Grant, error) {
	var row Request
	err := t.tx.GetContext(t.ctx, &row,
		`SELECT * FROM requests WHERE requester = ? AND approved = 1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		requester)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query approved grant: %w", err)
	}
	return &Grant{
		RequestID:     row.ID,
		Targets:       row.Targets(),
		CredentialURL: row.CredentialURL,
		IPAddr:        row.IPAddr,
	}, nil
}

func (t *sqlTx) AssignedAddresses() ([]netip.Addr, error) {
	var raw []string
	err := t.tx.SelectContext(t.ctx, &raw,
		`SELECT ip_addr FROM requests WHERE ip_addr IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query assigned addresses: %w", err)
	}

	addrs := make([]netip.Addr, 0, len(raw))
	for _, s := range raw {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("stored ip_addr %q: %w", s, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func (t *sqlTx) GetPending(id int64) (*Request, error) {
	return t.getOne(`SELECT * FROM requests WHERE id = ? AND ack = 0`, id)
}

func (t *sqlTx) GetApproved(id int64) (*Request, error) {
	return t.getOne(`SELECT * FROM requests WHERE id = ? AND approved = 1`, id)
}

func (t *sqlTx) getOne(query string, id int64) (*Request, error) {
	var row Request
	err := t.tx.GetContext(t.ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query request %d: %w", id, err)
	}
	return &row, nil
}

func (t *sqlTx) Approve(id int64, credentialURL *string, ip *string) error {
	row, err := t.GetPending(id)
	if err != nil {
		return err
	}

	// Supersede: the requester keeps at most one approved row.
	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE requests SET approved = 0 WHERE requester = ?`, row.Requester); err != nil {
		return fmt.Errorf("supersede prior grants: %w", err)
	}

	if credentialURL != nil || ip != nil {
		_, err = t.tx.ExecContext(t.ctx,
			`UPDATE requests SET ack = 1, approved = 1, credential_url = ?, ip_addr = ? WHERE id = ?`,
			credentialURL, ip, id)
	} else {
		_, err = t.tx.ExecContext(t.ctx,
			`UPDATE requests SET ack = 1, approved = 1 WHERE id = ?`, id)
	}
	if err != nil {
		return fmt.Errorf("approve request %d: %w", id, err)
	}
	return nil
}

func (t *sqlTx) Decline(id int64) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE requests SET ack = 1, approved = 0 WHERE id = ? AND ack = 0`, id)
	if err != nil {
		return fmt.Errorf("decline request %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *sqlTx) SetTargets(id int64, targets []string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE requests SET access_targets = ? WHERE id = ?`, JoinTargets(targets), id)
	if err != nil {
		return fmt.Errorf("set targets on request %d: %w", id, err)
	}
	return nil
}

func (t *sqlTx) SetProvisionState(id int64, state ProvisionState) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE requests SET provision_state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("set provision state on request %d: %w", id, err)
	}
	return nil
}

func (t *sqlTx) ListApproved() ([]Request, error) {
	var rows []Request
	err := t.tx.SelectContext(t.ctx, &rows,
		`SELECT * FROM requests WHERE approved = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list approved requests: %w", err)
	}
	return rows, nil
}

func (t *sqlTx) ListPending() ([]Request, error) {
	var rows []Request
	err := t.tx.SelectContext(t.ctx, &rows,
		`SELECT * FROM requests WHERE ack = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return rows, nil
}

func (t *sqlTx) CredentialFor(requester string) (string, bool, error) {
	var url sql.NullString
	err := t.tx.GetContext(t.ctx, &url,
		`SELECT credential_url FROM requests WHERE requester = ? AND approved = 1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		requester)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query credential: %w", err)
	}
	if !url.Valid {
		return "", false, nil
	}
	return url.String, true, nil
}
