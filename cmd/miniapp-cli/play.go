package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/R3E-Network/miniapp-games/internal/chain"
	ui "github.com/R3E-Network/miniapp-games/internal/cli"
	"github.com/R3E-Network/miniapp-games/internal/game"
	"github.com/R3E-Network/miniapp-games/internal/reveal"
	"github.com/R3E-Network/miniapp-games/internal/session"
)

var Guess = cli.Command{
	Action: guess,
	Name:   "guess",
	Usage:  "stakes on a number and waits for the draw",
	Flags: []cli.Flag{
		&numberFlag,
		&stakeFlag,
	},
}

var Spin = cli.Command{
	Action: spin,
	Name:   "spin",
	Usage:  "spins the slot machine and waits for the reels",
	Flags: []cli.Flag{
		&stakeFlag,
	},
}

var numberFlag = cli.UintFlag{
	Name:     "number",
	Usage:    "the guessed number",
	Required: true,
}

func guess(c *cli.Context) error {
	n := c.Uint(numberFlag.Name)
	if n > 255 {
		return fmt.Errorf("%w: number %d", game.ErrInvalidInput, n)
	}
	return play(c, chain.GameGuess, uint8(n))
}

func spin(c *cli.Context) error {
	return play(c, chain.GameSlot, 0)
}

func play(c *cli.Context, g chain.Game, number uint8) error {
	stake, err := parseAmount(c.String(stakeFlag.Name))
	if err != nil {
		return err
	}
	_, rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, late, err := connect(c, rt)
	if err != nil {
		return err
	}
	for _, out := range late {
		ui.Warningf(os.Stdout, "late result for an earlier %s play: %s", out.Game, describe(out))
	}

	spinner := ui.NewSpinner(os.Stderr, "Submitting "+string(g))
	spinner.Track(func() string { return pendingStatus(sess) })
	spinner.Start()

	res, err := rt.Engine.Play(c.Context, sess, game.Intent{Game: g, Number: number, Stake: stake})
	if err != nil {
		spinner.Error(err.Error())
		if errors.Is(err, game.ErrUnknownOutcome) && res != nil && res.TxHash != (common.Hash{}) {
			ui.Infof(os.Stdout, "tx %s may still be mined; check its result on the ledger before playing again", res.TxHash.Hex())
		}
		return err
	}
	spinner.Stop()

	err = rt.Reveal.Run(c.Context, res.Outcome, func(r reveal.Reveal) {
		fmt.Fprintf(os.Stdout, "  %s %d\n", ui.Colorize(os.Stdout, "▶", ui.ColorCyan), r.Symbol)
	})
	if err != nil {
		return err
	}

	if res.Outcome.Won {
		ui.Successf(os.Stdout, "%s", describe(res.Outcome))
	} else {
		ui.Infof(os.Stdout, "%s", describe(res.Outcome))
	}
	ui.Infof(os.Stdout, "lifetime: %d plays, %s paid out (%s)", res.Stats.Count, res.Stats.TotalAmount, res.Stats.Source)
	return nil
}

func pendingStatus(sess *session.Session) string {
	req := sess.Pending()
	if req == nil {
		return ""
	}
	switch req.Status() {
	case session.StatusSubmitted:
		return "waiting for receipt"
	case session.StatusConfirmed:
		return fmt.Sprintf("confirmed in block %d", req.SubmissionBlock())
	case session.StatusAwaitingFulfillment:
		return fmt.Sprintf("waiting for randomness (poll %d)", req.PollAttempt())
	}
	return string(req.Status())
}

func describe(out *session.Outcome) string {
	symbols := make([]string, len(out.Symbols))
	for i, s := range out.Symbols {
		symbols[i] = fmt.Sprint(s)
	}
	result := "lost"
	if out.Won {
		result = "won " + out.Payout.String()
	}
	return fmt.Sprintf("[%s] %s (block %d)", strings.Join(symbols, " "), result, out.BlockNumber)
}
