package main

import (
	"net/http"
	"strings"

	"github.com/urfave/cli"
)

var swapCommands = []cli.Command{
	{
		Name:      "offers",
		ShortName: "o",
		Usage:     "Create and inspect swap offers.",
		Category:  "Swaps",
		Subcommands: []cli.Command{
			createOfferCommand,
			listOffersCommand,
			getOfferCommand,
			updateOfferCommand,
		},
	},
	{
		Name:      "swaps",
		ShortName: "s",
		Usage:     "Bid on offers and execute swaps.",
		Category:  "Swaps",
		Subcommands: []cli.Command{
			createBidCommand,
			executeSwapCommand,
		},
	},
	{
		Name:     "auction",
		Usage:    "Run offer bundles through the auction flow.",
		Category: "Swaps",
		Subcommands: []cli.Command{
			createAuctionCommand,
			auctionBidCommand,
			finishAuctionCommand,
		},
	},
}

var createAuctionCommand = cli.Command{
	Name:  "create",
	Usage: "publish a bundle of auction offers, pre-signed in one round",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "contract_id",
			Usage: "the contract being sold",
		},
		cli.StringFlag{
			Name: "amounts",
			Usage: "comma separated decimal amounts, one " +
				"offer per entry",
		},
		cli.Int64Flag{
			Name:  "price",
			Usage: "the asking price per offer in satoshi",
		},
		cli.StringFlag{
			Name:  "descriptor",
			Usage: "the private seller descriptor",
		},
		cli.Int64Flag{
			Name:  "expire_at",
			Usage: "optional unix deadline of the offers",
		},
	},
	Action: createAuction,
}

func createAuction(ctx *cli.Context) error {
	switch {
	case ctx.String("contract_id") == "":
		fallthrough
	case ctx.String("amounts") == "":
		fallthrough
	case ctx.Int64("price") == 0:
		return cli.ShowCommandHelp(ctx, "create")
	}

	var offers []map[string]interface{}
	for _, amt := range strings.Split(ctx.String("amounts"), ",") {
		offers = append(offers, map[string]interface{}{
			"contract_id": ctx.String("contract_id"),
			"amount":      strings.TrimSpace(amt),
			"price":       ctx.Int64("price"),
			"strategy":    "auction",
			"descriptor":  ctx.String("descriptor"),
			"expire_at":   ctx.Int64("expire_at"),
		})
	}

	resp, err := call(
		ctx, http.MethodPost, "/auction/offers", map[string]interface{}{
			"offers": offers,
		},
	)
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var offerFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "contract_id",
		Usage: "the contract being sold",
	},
	cli.StringFlag{
		Name:  "amount",
		Usage: "the offered amount as a decimal string",
	},
	cli.Int64Flag{
		Name:  "price",
		Usage: "the asking price in satoshi",
	},
	cli.StringFlag{
		Name: "strategy",
		Usage: "the matching strategy, one of: p2p, hotswap, " +
			"auction",
		Value: "p2p",
	},
	cli.StringFlag{
		Name: "descriptor",
		Usage: "the seller descriptor, private for an immediate " +
			"pre-sign, public for out of band signing",
	},
	cli.Int64Flag{
		Name:  "expire_at",
		Usage: "optional unix deadline of the offer",
	},
}

var createOfferCommand = cli.Command{
	Name:   "create",
	Usage:  "publish a seller offer",
	Flags:  offerFlags,
	Action: createOffer,
}

func offerBody(ctx *cli.Context) map[string]interface{} {
	return map[string]interface{}{
		"contract_id": ctx.String("contract_id"),
		"amount":      ctx.String("amount"),
		"price":       ctx.Int64("price"),
		"strategy":    ctx.String("strategy"),
		"descriptor":  ctx.String("descriptor"),
		"expire_at":   ctx.Int64("expire_at"),
	}
}

func createOffer(ctx *cli.Context) error {
	switch {
	case ctx.String("contract_id") == "":
		fallthrough
	case ctx.String("amount") == "":
		fallthrough
	case ctx.Int64("price") == 0:
		return cli.ShowCommandHelp(ctx, "create")
	}

	resp, err := call(ctx, http.MethodPost, "/offers", offerBody(ctx))
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var listOffersCommand = cli.Command{
	Name:   "list",
	Usage:  "list all offers",
	Action: listOffers,
}

func listOffers(ctx *cli.Context) error {
	resp, err := call(ctx, http.MethodGet, "/offers", nil)
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var getOfferCommand = cli.Command{
	Name:      "get",
	Usage:     "show one offer, settling it lazily if confirmed",
	ArgsUsage: "offer_id",
	Action:    getOffer,
}

func getOffer(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "get")
	}

	resp, err := call(
		ctx, http.MethodGet, "/offers/"+ctx.Args().First(), nil,
	)
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var updateOfferCommand = cli.Command{
	Name:  "update",
	Usage: "attach the out of band signed seller leg to a p2p offer",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "offer_id",
			Usage: "the offer to update",
		},
		cli.StringFlag{
			Name:  "psbt",
			Usage: "the base64 packet with the signed seller leg",
		},
	},
	Action: updateOffer,
}

func updateOffer(ctx *cli.Context) error {
	if ctx.String("offer_id") == "" || ctx.String("psbt") == "" {
		return cli.ShowCommandHelp(ctx, "update")
	}

	resp, err := call(
		ctx, http.MethodPost, "/offers/update", map[string]interface{}{
			"offer_id": ctx.String("offer_id"),
			"psbt":     ctx.String("psbt"),
		},
	)
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var bidFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "offer_id",
		Usage: "the offer to bid on",
	},
	cli.StringFlag{
		Name:  "amount",
		Usage: "the asset amount asked for, as a decimal string",
	},
	cli.Int64Flag{
		Name:  "price",
		Usage: "the bitcoin value paid to the seller, in satoshi",
	},
	cli.StringFlag{
		Name:  "descriptor",
		Usage: "the private descriptor funding the buyer side",
	},
	cli.Int64Flag{
		Name:  "fee_value",
		Usage: "absolute fee in satoshi, exclusive with fee_rate",
	},
	cli.Int64Flag{
		Name:  "fee_rate",
		Usage: "fee rate in sat/vB, exclusive with fee_value",
	},
}

func bidBody(ctx *cli.Context) map[string]interface{} {
	return map[string]interface{}{
		"offer_id":   ctx.String("offer_id"),
		"amount":     ctx.String("amount"),
		"price":      ctx.Int64("price"),
		"descriptor": ctx.String("descriptor"),
		"fee_value":  ctx.Int64("fee_value"),
		"fee_rate":   ctx.Int64("fee_rate"),
	}
}

var createBidCommand = cli.Command{
	Name:   "bid",
	Usage:  "attach a funded and signed bid to an offer",
	Flags:  bidFlags,
	Action: createBid,
}

func createBid(ctx *cli.Context) error {
	switch {
	case ctx.String("offer_id") == "":
		fallthrough
	case ctx.String("amount") == "":
		fallthrough
	case ctx.String("descriptor") == "":
		return cli.ShowCommandHelp(ctx, "bid")
	}

	resp, err := call(ctx, http.MethodPost, "/bids", bidBody(ctx))
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var executeSwapCommand = cli.Command{
	Name:  "execute",
	Usage: "finalize a matched offer into a broadcast swap",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "offer_id",
			Usage: "the matched offer to finalize",
		},
		cli.StringFlag{
			Name: "descriptors",
			Usage: "comma separated seller descriptors, " +
				"required for hotswap offers",
		},
	},
	Action: executeSwap,
}

func executeSwap(ctx *cli.Context) error {
	if ctx.String("offer_id") == "" {
		return cli.ShowCommandHelp(ctx, "execute")
	}

	var descriptors []string
	if raw := ctx.String("descriptors"); raw != "" {
		descriptors = strings.Split(raw, ",")
	}

	resp, err := call(ctx, http.MethodPost, "/swap", map[string]interface{}{
		"offer_id":    ctx.String("offer_id"),
		"descriptors": descriptors,
	})
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var auctionBidCommand = cli.Command{
	Name:   "bid",
	Usage:  "bid on one offer of an open auction bundle",
	Flags:  bidFlags,
	Action: auctionBid,
}

func auctionBid(ctx *cli.Context) error {
	if ctx.String("offer_id") == "" || ctx.String("amount") == "" {
		return cli.ShowCommandHelp(ctx, "bid")
	}

	resp, err := call(ctx, http.MethodPost, "/auction/bids", bidBody(ctx))
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var finishAuctionCommand = cli.Command{
	Name:      "finish",
	Usage:     "close an auction bundle, settling single-bid offers",
	ArgsUsage: "bundle_id",
	Action:    finishAuction,
}

func finishAuction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "finish")
	}

	resp, err := call(
		ctx, http.MethodPost, "/auction/finish", map[string]interface{}{
			"bundle_id": ctx.Args().First(),
		},
	)
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}
