/*
Command keytool manages storefront signing keys.

SUBCOMMANDS:
  generate                       New key: prints seed and address
  address     -seed HEX          Address of a key
  sign-permit -seed HEX -spender ADDR -value N -nonce N [-domain D] [-ttl 1h]
                                 Delegated approval for a buy request
  sign-caller -seed HEX [-audience A] [-ttl 1h]
                                 Bearer token for the HTTP API

Output is JSON on stdout. The nonce must be the holder's current permit
nonce (GET /api/accounts/{address}).
*/
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/warp/storefront/catalog"
	"github.com/warp/storefront/permit"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, time.Now()); err != nil {
		fmt.Fprintln(os.Stderr, "keytool:", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: keytool generate|address|sign-permit|sign-caller [flags]")

func run(args []string, out io.Writer, now time.Time) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	seed := fs.String("seed", "", "hex-encoded 32-byte key seed")

	switch cmd {
	case "generate":
		key, err := permit.GenerateKey()
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]string{"seed": key.Seed(), "address": key.Address().String()})

	case "address":
		if err := fs.Parse(args); err != nil {
			return err
		}
		key, err := permit.KeyFromSeed(*seed)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]string{"address": key.Address().String()})

	case "sign-permit":
		domain := fs.String("domain", "storefront-token", "token domain")
		spender := fs.String("spender", "", "store account address")
		value := fs.Uint64("value", 0, "approved amount")
		nonce := fs.Uint64("nonce", 0, "holder's current permit nonce")
		ttl := fs.Duration("ttl", time.Hour, "time until the approval expires")
		if err := fs.Parse(args); err != nil {
			return err
		}
		key, err := permit.KeyFromSeed(*seed)
		if err != nil {
			return err
		}
		to, err := catalog.ParseAddress(*spender)
		if err != nil {
			return fmt.Errorf("spender: %w", err)
		}
		deadline := now.Add(*ttl).Unix()
		sig, err := permit.Sign(key, permit.Approval{
			Domain:   *domain,
			Holder:   key.Address(),
			Spender:  to,
			Value:    catalog.Amount(*value),
			Nonce:    *nonce,
			Deadline: time.Unix(deadline, 0),
		})
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]any{"amount": *value, "deadline": deadline, "signature": sig})

	case "sign-caller":
		audience := fs.String("audience", "storefront", "API audience (app.name)")
		ttl := fs.Duration("ttl", time.Hour, "token lifetime")
		if err := fs.Parse(args); err != nil {
			return err
		}
		key, err := permit.KeyFromSeed(*seed)
		if err != nil {
			return err
		}
		token, err := permit.SignCaller(key, *audience, *ttl, now)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]string{"address": key.Address().String(), "token": token})

	default:
		return errUsage
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
