// Copyright 2025 The dhtrpc Authors
// This file is part of dhtd.
//
// dhtd is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// dhtd is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with dhtd. If not, see <http://www.gnu.org/licenses/>.

// dhtd runs a standalone DHT node.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hyperdht/dhtrpc/dht"
	"github.com/hyperdht/dhtrpc/knode"
)

var (
	addrFlag = &cli.StringFlag{
		Name:  "addr",
		Usage: "UDP listen address",
		Value: "0.0.0.0:49737",
	}
	bootstrapFlag = &cli.StringSliceFlag{
		Name:  "bootstrap",
		Usage: "bootstrap node as <hex id>@<host:port> (repeatable)",
	}
	ephemeralFlag = &cli.BoolFlag{
		Name:  "ephemeral",
		Usage: "take part in queries without joining remote routing tables",
	}
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "logging verbosity: 0=panic .. 6=trace",
		Value: int(logrus.InfoLevel),
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics.addr",
		Usage: "prometheus HTTP endpoint, disabled when empty",
	}
)

func main() {
	app := &cli.App{
		Name:   "dhtd",
		Usage:  "Kademlia DHT node",
		Flags:  []cli.Flag{addrFlag, bootstrapFlag, ephemeralFlag, configFlag, verbosityFlag, metricsAddrFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetLevel(logrus.Level(cfg.Verbosity))
	log.SetFormatter(&logrus.TextFormatter{
		ForceColors:   isatty.IsTerminal(os.Stdout.Fd()),
		FullTimestamp: true,
	})

	listen, err := netip.ParseAddrPort(cfg.Addr)
	if err != nil {
		return fmt.Errorf("bad listen address %q: %v", cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(listen))
	if err != nil {
		return err
	}

	bootstrap := make([]knode.Node, 0, len(cfg.Bootstrap))
	for _, s := range cfg.Bootstrap {
		n, err := parseNode(s)
		if err != nil {
			return err
		}
		bootstrap = append(bootstrap, n)
	}

	self := knode.New(knode.RandomID(), listen)
	transport := dht.NewUDPTransport(conn, log.WithField("module", "udp"))
	node, err := dht.New(dht.Config{
		LocalNode: self,
		Transport: transport,
		Ephemeral: cfg.Ephemeral,
		Bootstrap: bootstrap,
		Log:       log,
	})
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"id": self.ID(), "addr": listen}).Info("Starting DHT node")

	runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	packets := make(chan dht.Packet, 64)
	g, runCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return transport.ReadLoop(packets)
	})

	g.Go(func() error {
		<-runCtx.Done()
		return transport.Close()
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			log.WithField("addr", cfg.MetricsAddr).Info("Serving metrics")
			err := srv.ListenAndServe()
			if err == http.ErrServerClosed {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-runCtx.Done()
			return srv.Close()
		})
	}

	// The event loop. Inbound traffic is applied ahead of query
	// advancement within each tick, so queries always see the freshest
	// peer knowledge.
	g.Go(func() error {
		node.Bootstrap()
		tick := time.NewTicker(100 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-runCtx.Done():
				return nil
			case p, ok := <-packets:
				if !ok {
					return nil
				}
				if err := node.HandleMessage(p.Msg, dht.PeerFrom(p.From)); err != nil {
					log.WithFields(logrus.Fields{"addr": p.From, "err": err}).
						Debug("Rejected request")
				}
			case now := <-tick.C:
				for {
					result, more := node.Poll(now)
					if result != nil {
						logResult(log, result)
					}
					if !more {
						break
					}
				}
			}
		}
	})

	return g.Wait()
}

func logResult(log *logrus.Logger, r *dht.QueryResult) {
	log.WithFields(logrus.Fields{
		"query":    uint64(r.ID),
		"cmd":      r.Command,
		"peers":    len(r.Nodes),
		"requests": r.Stats.Requests,
		"failed":   r.Stats.Failure,
		"elapsed":  r.Stats.Duration(),
		"timeout":  r.TimedOut,
	}).Info("Query complete")
}

// parseNode parses "<hex id>@<host:port>".
func parseNode(s string) (knode.Node, error) {
	idpart, addrpart, found := strings.Cut(s, "@")
	if !found {
		return knode.Node{}, fmt.Errorf("bad node %q: want <hex id>@<host:port>", s)
	}
	id, err := parseID(idpart)
	if err != nil {
		return knode.Node{}, fmt.Errorf("bad node %q: %v", s, err)
	}
	addr, err := netip.ParseAddrPort(addrpart)
	if err != nil {
		return knode.Node{}, fmt.Errorf("bad node %q: %v", s, err)
	}
	return knode.New(id, addr), nil
}

func parseID(s string) (knode.ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return knode.ID{}, err
	}
	return knode.IDFromBytes(b)
}
