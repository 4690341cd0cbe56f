package main

import (
	"net/http"

	"github.com/urfave/cli"
)

var watcherCommands = []cli.Command{
	{
		Name:     "watcher",
		Usage:    "Manage the watcher of the acting identity.",
		Category: "Watcher",
		Subcommands: []cli.Command{
			createWatcherCommand,
			getWatcherCommand,
		},
	},
}

var createWatcherCommand = cli.Command{
	Name:  "create",
	Usage: "register a watcher for the acting identity",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "name",
			Usage: "the human readable watcher name",
		},
		cli.StringFlag{
			Name:  "xpub",
			Usage: "the account public key the watcher observes",
		},
		cli.BoolFlag{
			Name:  "force",
			Usage: "replace an existing watcher wholesale",
		},
	},
	Action: createWatcher,
}

func createWatcher(ctx *cli.Context) error {
	if ctx.String("name") == "" || ctx.String("xpub") == "" {
		return cli.ShowCommandHelp(ctx, "create")
	}

	resp, err := call(ctx, http.MethodPost, "/watcher", map[string]interface{}{
		"name":  ctx.String("name"),
		"xpub":  ctx.String("xpub"),
		"force": ctx.Bool("force"),
	})
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}

var getWatcherCommand = cli.Command{
	Name:   "info",
	Usage:  "show the watcher of the acting identity",
	Action: getWatcher,
}

func getWatcher(ctx *cli.Context) error {
	resp, err := call(ctx, http.MethodGet, "/watcher", nil)
	if err != nil {
		return err
	}

	return printRespJSON(resp)
}
