package main

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	ui "github.com/R3E-Network/miniapp-games/internal/cli"
	"github.com/R3E-Network/miniapp-games/internal/game"
)

var Approve = cli.Command{
	Action: approve,
	Name:   "approve",
	Usage:  "lets a game contract spend the stake token",
	Flags: []cli.Flag{
		&gameFlag,
		&amountFlag,
	},
}

var Overview = cli.Command{
	Action: overview,
	Name:   "overview",
	Usage:  "shows balance, allowance, pot and pause state for a game",
	Flags: []cli.Flag{
		&gameFlag,
	},
}

var Stats = cli.Command{
	Action: stats,
	Name:   "stats",
	Usage:  "shows the lifetime stats of an account",
	Flags: []cli.Flag{
		&gameFlag,
		&accountFlag,
	},
}

var (
	amountFlag = cli.StringFlag{
		Name:     "amount",
		Usage:    "allowance in token base units",
		Required: true,
	}
	accountFlag = cli.StringFlag{
		Name:  "account",
		Usage: "account address, defaults to the configured wallet",
	}
)

func approve(c *cli.Context) error {
	amount, err := parseAmount(c.String(amountFlag.Name))
	if err != nil {
		return err
	}
	_, rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, _, err := connect(c, rt)
	if err != nil {
		return err
	}
	spinner := ui.NewSpinner(os.Stderr, "Approving")
	spinner.Start()
	rcpt, err := rt.Engine.Approve(c.Context, sess, chain.Game(c.String(gameFlag.Name)), amount)
	if err != nil {
		spinner.Error(err.Error())
		return err
	}
	spinner.Success(fmt.Sprintf("approved in block %d (tx %s)", rcpt.BlockNumber, rcpt.TxHash.Hex()))
	return nil
}

func overview(c *cli.Context) error {
	_, rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, _, err := connect(c, rt)
	if err != nil {
		return err
	}
	ov, err := rt.Engine.Overview(c.Context, sess, chain.Game(c.String(gameFlag.Name)))
	if err != nil {
		return err
	}
	printReading("balance", ov.Balance)
	printReading("allowance", ov.Allowance)
	printReading("pot", ov.Pot)
	if ov.Paused.Known() {
		fmt.Fprintf(os.Stdout, "%-10s %t\n", "paused", ov.Paused.Value)
	} else {
		fmt.Fprintf(os.Stdout, "%-10s %s\n", "paused", ui.Colorize(os.Stdout, "unknown", ui.ColorYellow))
	}
	return nil
}

func printReading(label string, r game.Reading[*big.Int]) {
	value := r.Value.String()
	if !r.Known() {
		value = ui.Colorize(os.Stdout, "unknown", ui.ColorYellow)
	}
	fmt.Fprintf(os.Stdout, "%-10s %s\n", label, value)
}

func stats(c *cli.Context) error {
	_, rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	var account common.Address
	switch raw := c.String(accountFlag.Name); {
	case raw != "":
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("%w: account %q", game.ErrInvalidInput, raw)
		}
		account = common.HexToAddress(raw)
	case rt.Wallet != nil:
		account = rt.Wallet.Address()
	default:
		return fmt.Errorf("--%s is required without PRIVATE_KEY", accountFlag.Name)
	}

	st, err := rt.Engine.Stats(c.Context, chain.Game(c.String(gameFlag.Name)), account)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "plays   %d\npayout  %s\nsource  %s\n", st.Count, st.TotalAmount, st.Source)
	return nil
}
