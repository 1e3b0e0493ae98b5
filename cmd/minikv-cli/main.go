package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vector-ops/minikv/client"
	"github.com/vector-ops/minikv/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "minikv-cli",
		Usage: "talk to a minikv server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "server host", Value: config.DefaultHost},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "server port", Value: config.DefaultPort},
			&cli.DurationFlag{Name: "timeout", Usage: "dial and request timeout", Value: 3 * time.Second},
		},
		Commands: []*cli.Command{
			{
				Name:      "ping",
				Usage:     "check the server, optionally echoing a message",
				ArgsUsage: "[message]",
				Action: withClient(func(ctx context.Context, c *cli.Context, kv *client.Client) error {
					var msg []byte
					if c.NArg() > 0 {
						msg = []byte(c.Args().First())
					}
					val, err := kv.Ping(ctx, msg)
					if err != nil {
						return err
					}
					fmt.Printf("%q\n", val)
					return nil
				}),
			},
			{
				Name:      "get",
				Usage:     "print the value of a key",
				ArgsUsage: "key",
				Action: withClient(func(ctx context.Context, c *cli.Context, kv *client.Client) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: get key", 2)
					}
					val, ok, err := kv.Get(ctx, c.Args().First())
					if err != nil {
						return err
					}
					if !ok {
						fmt.Println("(nil)")
						return nil
					}
					fmt.Printf("%q\n", val)
					return nil
				}),
			},
			{
				Name:      "set",
				Usage:     "store a value under a key",
				ArgsUsage: "key value",
				Action: withClient(func(ctx context.Context, c *cli.Context, kv *client.Client) error {
					if c.NArg() != 2 {
						return cli.Exit("usage: set key value", 2)
					}
					if err := kv.Set(ctx, c.Args().Get(0), []byte(c.Args().Get(1))); err != nil {
						return err
					}
					fmt.Println("OK")
					return nil
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type clientAction func(ctx context.Context, c *cli.Context, kv *client.Client) error

// withClient dials the server named by the global flags before running fn.
func withClient(fn clientAction) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		defer cancel()

		addr := net.JoinHostPort(c.String("host"), strconv.Itoa(c.Int("port")))
		kv, err := client.New(ctx, addr)
		if err != nil {
			return fmt.Errorf("connect %s: %w", addr, err)
		}
		defer kv.Close()

		return fn(ctx, c, kv)
	}
}
