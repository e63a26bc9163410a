// Command maindht runs a standalone Mainline DHT node: it binds a UDP
// socket, answers the four KRPC queries, and bootstraps its routing
// table from a list of well-known nodes.
package main

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prxssh/maindht/internal/dht"
	"github.com/prxssh/maindht/internal/krpc"
	"github.com/prxssh/maindht/pkg/utils/logging"
)

var defaultBootstrapNodes = []string{
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
	"router.utorrent.com:6881",
}

func main() {
	listenAddr := flag.String("listen", ":6881", "UDP address to bind the DHT socket to")
	bootstrap := flag.String("bootstrap", strings.Join(defaultBootstrapNodes, ","), "comma-separated list of bootstrap host:port entries")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := logging.DefaultOptions()
	opts.SlogOpts.Level = level
	logger := slog.New(logging.NewPrettyHandler(os.Stdout, &opts))

	localID, err := randomNodeID()
	if err != nil {
		logger.Error("generate local id", "error", err)
		os.Exit(1)
	}

	transport, err := krpc.New(localID, *listenAddr, 3*time.Second, logger)
	if err != nil {
		logger.Error("bind transport", "error", err)
		os.Exit(1)
	}

	cfg := dht.DefaultConfig(localID)
	cfg.Logger = logger
	node := dht.NewDhtNode(cfg, transport)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node.Start(ctx)
	defer node.Stop()
	transport.Start()

	seeds := resolveSeeds(strings.Split(*bootstrap, ","), logger)
	if len(seeds) > 0 {
		if err := node.Bootstrap(ctx, seeds); err != nil {
			logger.Warn("bootstrap", "error", err)
		}
	}

	logger.Info("maindht listening", "addr", transport.LocalAddr(), "local_id", localID.String())

	<-ctx.Done()
	logger.Info("shutting down")
	transport.Stop()
}

func resolveSeeds(hosts []string, logger *slog.Logger) []dht.Endpoint {
	seeds := make([]dht.Endpoint, 0, len(hosts))
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}

		addr, err := net.ResolveUDPAddr("udp", host)
		if err != nil {
			logger.Warn("resolve bootstrap node", "host", host, "error", err)
			continue
		}
		seeds = append(seeds, dht.EndpointFromUDPAddr(addr))
	}
	return seeds
}

func randomNodeID() (dht.NodeID, error) {
	var raw [sha1.Size]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return dht.NodeID{}, err
	}
	return dht.DecodeID(raw[:])
}
