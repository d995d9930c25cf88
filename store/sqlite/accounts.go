package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/warp/storefront/catalog"
	"github.com/warp/storefront/token"
)

// =============================================================================
// TOKEN LEDGER - token.AccountStore on the catalog database
// =============================================================================

// SaveAccounts writes s in its own transaction. Inside WithTx the
// transaction's SaveAccounts is used instead, so ledger and catalog
// changes commit together.
func (s *Store) SaveAccounts(ctx context.Context, st token.State) error {
	return s.WithTx(ctx, func(tx catalog.Store) error {
		return tx.(*conn).SaveAccounts(ctx, st)
	})
}

func (c *conn) LoadAccounts(ctx context.Context) (token.State, error) {
	st := token.State{
		Balances:   make(map[catalog.Address]catalog.Amount),
		Nonces:     make(map[catalog.Address]uint64),
		Allowances: make(map[token.AllowanceKey]catalog.Amount),
	}

	var supply string
	err := c.q.QueryRowContext(ctx, `SELECT supply FROM token_supply WHERE id = 1`).Scan(&supply)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return token.State{}, fmt.Errorf("failed to load token supply: %w", err)
	default:
		v, err := strconv.ParseUint(supply, 10, 64)
		if err != nil {
			return token.State{}, fmt.Errorf("corrupt token supply: %w", err)
		}
		st.Supply = catalog.Amount(v)
	}

	if err := c.scanPairs(ctx, `SELECT account, balance FROM token_balances`, func(a, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		st.Balances[catalog.Address(a)] = catalog.Amount(n)
		return err
	}); err != nil {
		return token.State{}, fmt.Errorf("failed to load balances: %w", err)
	}
	if err := c.scanPairs(ctx, `SELECT holder, nonce FROM token_nonces`, func(a, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		st.Nonces[catalog.Address(a)] = n
		return err
	}); err != nil {
		return token.State{}, fmt.Errorf("failed to load nonces: %w", err)
	}

	rows, err := c.q.QueryContext(ctx, `SELECT holder, spender, value FROM token_allowances`)
	if err != nil {
		return token.State{}, fmt.Errorf("failed to load allowances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var holder, spender, value string
		if err := rows.Scan(&holder, &spender, &value); err != nil {
			return token.State{}, err
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return token.State{}, fmt.Errorf("corrupt allowance of %s: %w", holder, err)
		}
		k := token.AllowanceKey{Holder: catalog.Address(holder), Spender: catalog.Address(spender)}
		st.Allowances[k] = catalog.Amount(n)
	}
	return st, rows.Err()
}

func (c *conn) SaveAccounts(ctx context.Context, st token.State) error {
	if _, err := c.q.ExecContext(ctx, `
		INSERT INTO token_supply (id, supply) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET supply = excluded.supply`,
		formatUint(uint64(st.Supply)),
	); err != nil {
		return fmt.Errorf("failed to save token supply: %w", err)
	}
	for a, b := range st.Balances {
		if _, err := c.q.ExecContext(ctx, `
			INSERT INTO token_balances (account, balance) VALUES (?, ?)
			ON CONFLICT (account) DO UPDATE SET balance = excluded.balance`,
			string(a), formatUint(uint64(b)),
		); err != nil {
			return fmt.Errorf("failed to save balance of %s: %w", a, err)
		}
	}
	for a, n := range st.Nonces {
		if _, err := c.q.ExecContext(ctx, `
			INSERT INTO token_nonces (holder, nonce) VALUES (?, ?)
			ON CONFLICT (holder) DO UPDATE SET nonce = excluded.nonce`,
			string(a), formatUint(n),
		); err != nil {
			return fmt.Errorf("failed to save nonce of %s: %w", a, err)
		}
	}
	for k, v := range st.Allowances {
		if _, err := c.q.ExecContext(ctx, `
			INSERT INTO token_allowances (holder, spender, value) VALUES (?, ?, ?)
			ON CONFLICT (holder, spender) DO UPDATE SET value = excluded.value`,
			string(k.Holder), string(k.Spender), formatUint(uint64(v)),
		); err != nil {
			return fmt.Errorf("failed to save allowance of %s: %w", k.Holder, err)
		}
	}
	return nil
}

func (c *conn) scanPairs(ctx context.Context, query string, fn func(key, value string) error) error {
	rows, err := c.q.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		if err := fn(k, v); err != nil {
			return fmt.Errorf("corrupt value for %s: %w", k, err)
		}
	}
	return rows.Err()
}
