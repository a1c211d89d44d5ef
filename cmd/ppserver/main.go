package main

import (
	"crypto/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/nickbublik/pingpong/internal/api"
	"github.com/nickbublik/pingpong/internal/broker"
	"github.com/nickbublik/pingpong/internal/discovery"
	"github.com/nickbublik/pingpong/internal/metrics"
)

func main() {
	app := cli.NewApp()
	app.Name = "ppserver"
	app.Usage = "pingpong broker: pairs senders and receivers by code phrase and relays file chunks"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "listen",
			Value:  ":60010",
			Usage:  "TCP listen address for client connections",
			EnvVar: "PP_LISTEN",
		},
		cli.UintFlag{
			Name:   "discovery-port",
			Value:  discovery.DefaultPort,
			Usage:  "UDP port answering LAN discovery probes (0 disables)",
			EnvVar: "PP_DISCOVERY_PORT",
		},
		cli.StringFlag{
			Name:   "status-listen",
			Usage:  "HTTP listen address for the status API (empty disables)",
			EnvVar: "PP_STATUS_LISTEN",
		},
		cli.Uint64Flag{
			Name:   "max-chunk-size",
			Value:  broker.DefaultMaxChunkSize,
			Usage:  "chunk payload bound offered to senders, in bytes",
			EnvVar: "PP_MAX_CHUNK_SIZE",
		},
		cli.StringFlag{
			Name:   "admin-secret-hash",
			Usage:  "bcrypt hash gating the status API's admin endpoints (empty disables them)",
			EnvVar: "PP_ADMIN_SECRET_HASH",
		},
		cli.StringFlag{
			Name:   "log-level",
			Value:  "info",
			Usage:  "logrus level: debug, info, warn, error",
			EnvVar: "PP_LOG_LEVEL",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func run(c *cli.Context) error {
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	log := logrus.WithField("component", "ppserver")

	registry := prometheus.NewRegistry()
	srv := broker.NewServer(broker.Config{
		MaxChunkSize: c.Uint64("max-chunk-size"),
		Metrics:      metrics.NewBroker(registry),
	})

	listenAddr := c.String("listen")
	tcpPort, err := portOf(listenAddr)
	if err != nil {
		return err
	}

	if discoveryPort := c.Uint("discovery-port"); discoveryPort != 0 {
		responder, err := discovery.NewResponder(uint16(discoveryPort), tcpPort)
		if err != nil {
			return err
		}
		defer responder.Close()
		go responder.Serve()
		log.WithField("port", discoveryPort).Info("discovery responder up")
	}

	if statusAddr := c.String("status-listen"); statusAddr != "" {
		service := api.NewService(srv, []byte(c.String("admin-secret-hash")), freshJWTSecret(), registry)
		statusSrv := &http.Server{Addr: statusAddr, Handler: service.Router()}
		go func() {
			if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("status API failed")
			}
		}()
		defer statusSrv.Close()
		log.WithField("addr", statusAddr).Info("status API up")
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("shutting down")
		srv.Shutdown()
	}()

	return srv.ListenAndServe(listenAddr)
}

// portOf extracts the TCP port advertised over discovery.
func portOf(addr string) (uint16, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return 0, err
	}
	return uint16(tcpAddr.Port), nil
}

// freshJWTSecret generates a per-process signing key. Status tokens do not
// have to survive a broker restart.
func freshJWTSecret() []byte {
	secret := make([]byte, 32)
	rand.Read(secret)
	return secret
}
