package main

import (
	"net/http"

	"github.com/urfave/cli"
)

var contractCommands = []cli.Command{
	{
		Name:      "contracts",
		ShortName: "c",
		Usage:     "Issue, import and inspect asset contracts.",
		Category:  "Contracts",
		Subcommands: []cli.Command{
			issueContractCommand,
			importContractCommand,
			getContractCommand,
			listContractsCommand,
		},
	},
}

var issueContractCommand = cli.Command{
	Name:  "issue",
	Usage: "issue a new asset contract",
	Description: "Issues the full supply of a new contract to an " +
		"outpoint controlled by the acting identity.",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "ticker",
			Usage: "the short ticker symbol",
		},
		cli.StringFlag{
			Name:  "name",
			Usage: "the full asset name",
		},
		cli.Uint64Flag{
			Name:  "precision",
			Usage: "the number of decimal places",
		},
		cli.Uint64Flag{
			Name:  "supply",
			Usage: "the total supply in base units",
		},
		cli.StringFlag{
			Name:  "iface",
			Usage: "the contract interface, RGB20 or RGB21",
			Value: "RGB20",
		},
		cli.StringFlag{
			Name:  "outpoint",
			Usage: "the txid:vout carrying the issuance",
		},
	},
	Action: issueContract,
}

func issueContract(ctx *cli.Context) error {
	switch {
	case ctx.String("ticker") == "":
		fallthrough
	case ctx.Uint64("supply") == 0:
		fallthrough
	case ctx.String("outpoint") == "":
		return cli.ShowCommandHelp(ctx, "issue")
	}

	resp, err := call(ctx, http.MethodPost, "/issue", map[string]interface{}{
		"ticker":    ctx.String("ticker"),
		"name":      ctx.String("name"),
		"precision": ctx.Uint64("precision"),
		"supply":    ctx.Uint64("supply"),
		"iface":     ctx.String("iface"),
		"outpoint":  ctx.String("outpoint"),
	})
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var importContractCommand = cli.Command{
	Name:  "import",
	Usage: "import an armored contract definition",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "contract",
			Usage: "the base64 armored contract blob",
		},
	},
	Action: importContract,
}

func importContract(ctx *cli.Context) error {
	if ctx.String("contract") == "" {
		return cli.ShowCommandHelp(ctx, "import")
	}

	resp, err := call(ctx, http.MethodPost, "/import", map[string]interface{}{
		"contract": ctx.String("contract"),
	})
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var getContractCommand = cli.Command{
	Name:      "balance",
	Usage:     "show the state and balance of one contract",
	ArgsUsage: "contract_id",
	Action:    getContract,
}

func getContract(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "balance")
	}

	resp, err := call(
		ctx, http.MethodGet, "/contract/"+ctx.Args().First(), nil,
	)
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var listContractsCommand = cli.Command{
	Name:   "list",
	Usage:  "list all contracts known to the acting identity",
	Action: listContracts,
}

func listContracts(ctx *cli.Context) error {
	resp, err := call(ctx, http.MethodGet, "/contracts", nil)
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}
