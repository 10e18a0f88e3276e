// Command miniapp-cli plays the mini-app games from a terminal and inspects
// player state.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/R3E-Network/miniapp-games/internal/config"
	"github.com/R3E-Network/miniapp-games/internal/game"
	"github.com/R3E-Network/miniapp-games/internal/session"
	"github.com/R3E-Network/miniapp-games/pkg/logger"
)

var (
	envFileFlag = cli.StringFlag{
		Name:  "env-file",
		Usage: "dotenv file read before the environment",
		Value: ".env",
	}
	stakeFlag = cli.StringFlag{
		Name:     "stake",
		Usage:    "stake in token base units",
		Required: true,
	}
	gameFlag = cli.StringFlag{
		Name:     "game",
		Usage:    "game name (guess or slot)",
		Required: true,
	}
)

func main() {
	app := &cli.App{
		Name:  "miniapp-cli",
		Usage: "play and inspect the on-chain mini-app games",
		Flags: []cli.Flag{&envFileFlag},
		Commands: []*cli.Command{
			&Guess,
			&Spin,
			&Approve,
			&Overview,
			&Stats,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and wires a runtime. Logs go to stderr so
// they do not interleave with command output on stdout.
func setup(c *cli.Context) (*config.Config, *game.Runtime, error) {
	cfg, err := config.LoadFrom(c.String(envFileFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	lc := cfg.Logger()
	lc.Output = os.Stderr
	log := logger.New("miniapp-cli", lc)

	rt, err := game.Wire(c.Context, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, rt, nil
}

// connect starts a session for the configured wallet on the endpoint's
// network.
func connect(c *cli.Context, rt *game.Runtime) (*session.Session, []*session.Outcome, error) {
	if rt.Wallet == nil {
		return nil, nil, errors.New("PRIVATE_KEY is required for this command")
	}
	chainID, err := rt.Primary.ChainID(c.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("chain id: %w", err)
	}
	return rt.Engine.Connect(c.Context, rt.Wallet.Address(), chainID.Uint64())
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q is not a base-10 integer", game.ErrInvalidInput, raw)
	}
	return v, nil
}
