package main

import (
	"net/http"

	"github.com/urfave/cli"
)

var transferCommands = []cli.Command{
	{
		Name:      "transfers",
		ShortName: "t",
		Usage:     "Receive, accept and verify asset transfers.",
		Category:  "Transfers",
		Subcommands: []cli.Command{
			blindCommand,
			invoiceCommand,
			acceptCommand,
			listTransfersCommand,
			verifyTransfersCommand,
		},
	},
}

var blindCommand = cli.Command{
	Name:  "blind",
	Usage: "blind an outpoint into a fresh seal",
	Description: "Creates a blinded seal over one of the identity's " +
		"outpoints. The seal can be handed to a payer without " +
		"revealing the destination.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "outpoint",
			Usage: "the txid:vout to blind",
		},
	},
	Action: blindUtxo,
}

func blindUtxo(ctx *cli.Context) error {
	if ctx.String("outpoint") == "" {
		return cli.ShowCommandHelp(ctx, "blind")
	}

	resp, err := call(ctx, http.MethodPost, "/blind", map[string]interface{}{
		"outpoint": ctx.String("outpoint"),
	})
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var invoiceCommand = cli.Command{
	Name:  "invoice",
	Usage: "create a single-use receive request",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "contract_id",
			Usage: "the contract to receive value of",
		},
		cli.StringFlag{
			Name:  "iface",
			Usage: "the contract interface, RGB20 or RGB21",
			Value: "RGB20",
		},
		cli.StringFlag{
			Name:  "amount",
			Usage: "the requested amount as a decimal string",
		},
		cli.StringFlag{
			Name:  "seal",
			Usage: "the blinded seal to receive under",
		},
		cli.Int64Flag{
			Name:  "expire_at",
			Usage: "optional unix deadline of the invoice",
		},
	},
	Action: createInvoice,
}

func createInvoice(ctx *cli.Context) error {
	switch {
	case ctx.String("contract_id") == "":
		fallthrough
	case ctx.String("amount") == "":
		fallthrough
	case ctx.String("seal") == "":
		return cli.ShowCommandHelp(ctx, "invoice")
	}

	resp, err := call(ctx, http.MethodPost, "/invoice", map[string]interface{}{
		"contract_id": ctx.String("contract_id"),
		"iface":       ctx.String("iface"),
		"amount":      ctx.String("amount"),
		"seal":        ctx.String("seal"),
		"expire_at":   ctx.Int64("expire_at"),
	})
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var acceptCommand = cli.Command{
	Name:      "accept",
	Usage:     "validate and accept an armored consignment",
	ArgsUsage: "consignment",
	Action:    acceptConsignment,
}

func acceptConsignment(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "accept")
	}

	resp, err := call(ctx, http.MethodPost, "/accept", map[string]interface{}{
		"consignment": ctx.Args().First(),
	})
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var listTransfersCommand = cli.Command{
	Name:   "list",
	Usage:  "list the transfer log of the acting identity",
	Action: listTransfers,
}

func listTransfers(ctx *cli.Context) error {
	resp, err := call(ctx, http.MethodGet, "/transfers", nil)
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var verifyTransfersCommand = cli.Command{
	Name:   "verify",
	Usage:  "re-validate pending transfers and promote acceptances",
	Action: verifyTransfers,
}

func verifyTransfers(ctx *cli.Context) error {
	resp, err := call(ctx, http.MethodPost, "/transfers/verify", nil)
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}
