package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/nickbublik/pingpong/internal/client"
	"github.com/nickbublik/pingpong/internal/discovery"
	"github.com/nickbublik/pingpong/internal/phrase"
)

const phraseWords = 3

func main() {
	app := cli.NewApp()
	app.Name = "ppclient"
	app.Usage = "send or receive a file through a pingpong broker on the LAN"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "send",
			Usage: "path of the file to send",
		},
		cli.StringFlag{
			Name:  "receive",
			Usage: "code phrase of the file to receive",
		},
		cli.StringFlag{
			Name:  "code",
			Usage: "code phrase to advertise (sender only; generated when empty)",
		},
		cli.StringFlag{
			Name:   "server",
			Usage:  "broker address host:port (skips LAN discovery)",
			EnvVar: "PP_SERVER",
		},
		cli.UintFlag{
			Name:   "discovery-port",
			Value:  discovery.DefaultPort,
			Usage:  "UDP port probed during LAN discovery",
			EnvVar: "PP_DISCOVERY_PORT",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: 2 * time.Second,
			Usage: "discovery timeout per probe stage",
		},
		cli.StringFlag{
			Name:  "out",
			Usage: "output path (receiver only; defaults to the advertised name)",
		},
		cli.BoolFlag{
			Name:  "yes",
			Usage: "accept the incoming file without prompting (receiver only)",
		},
		cli.StringFlag{
			Name:   "log-level",
			Value:  "warn",
			Usage:  "logrus level: debug, info, warn, error",
			EnvVar: "PP_LOG_LEVEL",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Error("transfer failed")
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	sendPath := c.String("send")
	receiveCode := c.String("receive")
	switch {
	case sendPath == "" && receiveCode == "":
		return cli.ShowAppHelp(c)
	case sendPath != "" && receiveCode != "":
		return errors.New("--send and --receive are mutually exclusive")
	}

	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Disconnect()

	if sendPath != "" {
		code := c.String("code")
		if code == "" {
			code = phrase.Generate(phraseWords)
		}
		return cl.SendFile(client.SendOptions{FilePath: sendPath, Code: code})
	}

	return cl.ReceiveFile(client.ReceiveOptions{
		Code:       receiveCode,
		OutputPath: c.String("out"),
		AssumeYes:  c.Bool("yes"),
	})
}

func connect(c *cli.Context) (*client.Client, error) {
	if addr := c.String("server"); addr != "" {
		return client.Connect(addr)
	}
	return client.AutoConnect(uint16(c.Uint("discovery-port")), c.Duration("timeout"))
}
