// Command streamdump mirrors a running PubSubHTTPEndpoint's tail to a
// compressed backup file, grounded on xtaci-kcptun's client/main.go for the
// cli.NewApp/cli.StringFlag/Action shape.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/C5T/Current-sub007/tools/streamdump"
)

func main() {
	app := cli.NewApp()
	app.Name = "streamdump"
	app.Usage = "mirror a PubSubHTTPEndpoint tail to a compressed backup file"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "url",
			Usage: "source endpoint URL, including its own query (e.g. \"?nowait&stop_after_bytes=...\")",
		},
		cli.StringFlag{
			Name:  "out",
			Usage: "destination backup file path",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: 30 * time.Second,
			Usage: "HTTP client timeout; 0 disables it for unbounded live tails",
		},
	}
	app.Action = func(c *cli.Context) error {
		sourceURL := c.String("url")
		out := c.String("out")
		if sourceURL == "" || out == "" {
			return cli.NewExitError("both -url and -out are required", 1)
		}
		client := streamdump.DefaultClient(c.Duration("timeout"))
		result, err := streamdump.Mirror(client, sourceURL, out)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		fmt.Fprintf(os.Stdout, "wrote %d lines (%d bytes) to %s\n", result.Lines, result.Bytes, out)
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
