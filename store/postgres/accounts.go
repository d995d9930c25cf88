package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/warp/storefront/catalog"
	"github.com/warp/storefront/token"
)

// SaveAccounts writes st in its own transaction under the catalog lock.
// Inside WithTx the transaction's SaveAccounts is used instead, so ledger
// and catalog changes commit together.
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
	err := c.q.QueryRowContext(ctx, `SELECT supply::text FROM token_supply WHERE id = 1`).Scan(&supply)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return token.State{}, fmt.Errorf("select token supply: %w", err)
	default:
		v, err := strconv.ParseUint(supply, 10, 64)
		if err != nil {
			return token.State{}, fmt.Errorf("parse token supply: %w", err)
		}
		st.Supply = catalog.Amount(v)
	}

	balances, err := c.q.QueryContext(ctx, `SELECT account, balance::text FROM token_balances`)
	if err != nil {
		return token.State{}, fmt.Errorf("query balances: %w", err)
	}
	defer balances.Close()
	for balances.Next() {
		var account, balance string
		if err := balances.Scan(&account, &balance); err != nil {
			return token.State{}, fmt.Errorf("scan balance: %w", err)
		}
		v, err := strconv.ParseUint(balance, 10, 64)
		if err != nil {
			return token.State{}, fmt.Errorf("parse balance of %s: %w", account, err)
		}
		st.Balances[catalog.Address(account)] = catalog.Amount(v)
	}
	if err := balances.Err(); err != nil {
		return token.State{}, fmt.Errorf("iterate balances: %w", err)
	}

	nonces, err := c.q.QueryContext(ctx, `SELECT holder, nonce::text FROM token_nonces`)
	if err != nil {
		return token.State{}, fmt.Errorf("query nonces: %w", err)
	}
	defer nonces.Close()
	for nonces.Next() {
		var holder, nonce string
		if err := nonces.Scan(&holder, &nonce); err != nil {
			return token.State{}, fmt.Errorf("scan nonce: %w", err)
		}
		v, err := strconv.ParseUint(nonce, 10, 64)
		if err != nil {
			return token.State{}, fmt.Errorf("parse nonce of %s: %w", holder, err)
		}
		st.Nonces[catalog.Address(holder)] = v
	}
	if err := nonces.Err(); err != nil {
		return token.State{}, fmt.Errorf("iterate nonces: %w", err)
	}

	allowances, err := c.q.QueryContext(ctx, `SELECT holder, spender, value::text FROM token_allowances`)
	if err != nil {
		return token.State{}, fmt.Errorf("query allowances: %w", err)
	}
	defer allowances.Close()
	for allowances.Next() {
		var holder, spender, value string
		if err := allowances.Scan(&holder, &spender, &value); err != nil {
			return token.State{}, fmt.Errorf("scan allowance: %w", err)
		}
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return token.State{}, fmt.Errorf("parse allowance of %s: %w", holder, err)
		}
		k := token.AllowanceKey{Holder: catalog.Address(holder), Spender: catalog.Address(spender)}
		st.Allowances[k] = catalog.Amount(v)
	}
	if err := allowances.Err(); err != nil {
		return token.State{}, fmt.Errorf("iterate allowances: %w", err)
	}
	return st, nil
}

func (c *conn) SaveAccounts(ctx context.Context, st token.State) error {
	if _, err := c.q.ExecContext(ctx, `
		INSERT INTO token_supply (id, supply) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET supply = EXCLUDED.supply`,
		formatUint(uint64(st.Supply)),
	); err != nil {
		return fmt.Errorf("upsert token supply: %w", err)
	}
	for a, b := range st.Balances {
		if _, err := c.q.ExecContext(ctx, `
			INSERT INTO token_balances (account, balance) VALUES ($1, $2)
			ON CONFLICT (account) DO UPDATE SET balance = EXCLUDED.balance`,
			string(a), formatUint(uint64(b)),
		); err != nil {
			return fmt.Errorf("upsert balance of %s: %w", a, err)
		}
	}
	for a, n := range st.Nonces {
		if _, err := c.q.ExecContext(ctx, `
			INSERT INTO token_nonces (holder, nonce) VALUES ($1, $2)
			ON CONFLICT (holder) DO UPDATE SET nonce = EXCLUDED.nonce`,
			string(a), formatUint(n),
		); err != nil {
			return fmt.Errorf("upsert nonce of %s: %w", a, err)
		}
	}
	for k, v := range st.Allowances {
		if _, err := c.q.ExecContext(ctx, `
			INSERT INTO token_allowances (holder, spender, value) VALUES ($1, $2, $3)
			ON CONFLICT (holder, spender) DO UPDATE SET value = EXCLUDED.value`,
			string(k.Holder), string(k.Spender), formatUint(uint64(v)),
		); err != nil {
			return fmt.Errorf("upsert allowance of %s: %w", k.Holder, err)
		}
	}
	return nil
}

var (
	_ token.AccountStore = (*Store)(nil)
	_ token.AccountStore = (*conn)(nil)
)
