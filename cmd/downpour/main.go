package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/log"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v2"

	"github.com/downpour-dl/downpour"
)

var (
	// Version of the build. Set by the linker.
	Version = "0.0.0-dev"
)

func main() {
	app := cli.NewApp()
	app.Name = "downpour"
	app.Usage = "download-only BitTorrent client"
	app.Version = Version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "read config from `FILE`",
			Value: "~/.downpour.yaml",
		},
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "download",
			Usage:     "download torrent into a directory",
			ArgsUsage: "<torrent file>",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "output, o",
					Usage: "download files into `DIR`",
					Value: ".",
				},
				cli.IntFlag{
					Name:  "port, p",
					Usage: "port number advertised to the tracker",
				},
				cli.Int64Flag{
					Name:  "limit, l",
					Usage: "download speed limit in bytes per second",
				},
			},
			Action: handleDownload,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (downpour.Config, error) {
	cfg := downpour.DefaultConfig

	path, err := homedir.Expand(c.GlobalString("config"))
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(path) // nolint: gosec
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional.
			return cfg, nil
		}
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	return cfg, err
}

func handleDownload(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("give a torrent file as first argument", 1)
	}
	if c.GlobalBool("debug") {
		downpour.SetLogLevel(log.DEBUG)
	} else {
		downpour.SetLogLevel(log.WARNING)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if port := c.Int("port"); port != 0 {
		cfg.Port = port
	}
	if limit := c.Int64("limit"); limit != 0 {
		cfg.SpeedLimitDownload = limit
	}

	client, err := downpour.New(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	t, err := client.AddTorrent(c.Args().Get(0), c.String("output"))
	if err != nil {
		return err
	}
	t.Start()

	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, syscall.SIGINT, syscall.SIGTERM)

	// 2-second rolling download rate, computed from the byte counter.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var lastBytes int64

	for {
		select {
		case <-signalC:
			fmt.Println("stopping...")
			t.Stop()
			return nil
		case <-ticker.C:
			p := t.Progress()
			rate := float64(p.BytesDownloaded-lastBytes) / 2
			lastBytes = p.BytesDownloaded
			percent := float64(0)
			if p.BytesTotal > 0 {
				percent = float64(p.BytesComplete) * 100 / float64(p.BytesTotal)
			}
			fmt.Printf("%s: %.1f%% (%d/%d pieces) %d peers %.0f KB/s\n",
				t.Name(), percent, p.CompletePieces, p.TotalPieces, p.Peers, rate/1024)
		case <-t.NotifyComplete():
			fmt.Println("download completed:", t.Name())
			return nil
		case err := <-t.NotifyError():
			return cli.NewExitError(fmt.Sprintf("download failed: %s", err), 1)
		}
	}
}
