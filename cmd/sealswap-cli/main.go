package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sealswap/sealswap"
	"github.com/urfave/cli"
)

const (
	defaultRPCServer = "localhost:8080"

	rpcServerName = "rpcserver"
	identityName  = "identity"
)

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[sealswap-cli] %v\n", err)
	os.Exit(1)
}

// call performs one JSON request against the daemon's REST API and returns
// the raw response body. Engine errors arrive as {"error": ...} bodies with
// a non-2xx status.
func call(ctx *cli.Context, method, path string,
	body interface{}) (json.RawMessage, error) {

	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			return nil, err
		}
	}

	url := "http://" + ctx.GlobalString(rpcServerName) + path
	req, err := http.NewRequest(method, url, &reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if id := ctx.GlobalString(identityName); id != "" {
		req.Header.Set("X-Identity", id)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var engineErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &engineErr) == nil &&
			engineErr.Error != "" {

			return nil, fmt.Errorf("[%d] %s", resp.StatusCode,
				engineErr.Error)
		}

		return nil, fmt.Errorf("[%d] %s", resp.StatusCode, raw)
	}

	return raw, nil
}

// printRespJSON pretty prints a JSON response body.
func printRespJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return err
	}

	fmt.Println(buf.String())
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "sealswap-cli"
	app.Version = sealswap.Version()
	app.Usage = "control plane for the sealswap daemon"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  rpcServerName,
			Value: defaultRPCServer,
			Usage: "the host:port of the sealswap daemon",
		},
		cli.StringFlag{
			Name: identityName,
			Usage: "the acting identity, sent as the " +
				"X-Identity header",
		},
	}

	app.Commands = append(app.Commands, watcherCommands...)
	app.Commands = append(app.Commands, contractCommands...)
	app.Commands = append(app.Commands, transferCommands...)
	app.Commands = append(app.Commands, swapCommands...)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
