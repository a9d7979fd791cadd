package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"chainpay/internal/config"
)

// runTrack registers one transaction with the configured Deal Store, for
// operators backfilling deals the escrow application did not register.
func runTrack(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("track", flag.ContinueOnError)
	chain := fs.String("chain", "", "chain name, e.g. ethereum")
	txid := fs.String("txid", "", "transaction hash or signature")
	owner := fs.String("owner", "", "deal reference notified on confirmation")
	target := fs.Uint64("target", 0, "confirmations required (0 uses the chain default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *chain == "" || *txid == "" || *owner == "" {
		fs.Usage()
		return errors.New("track: -chain, -txid and -owner are required")
	}
	if cfg.DealStore != "postgres" {
		return errors.New("track: DEAL_STORE=postgres is required, the memory store does not outlive this command")
	}

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.service.Track(ctx, *owner, *chain, *txid, *target)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w); err != nil {
		return fmt.Errorf("track: %w", err)
	}
	return nil
}
