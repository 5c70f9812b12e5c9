// Command discv5node runs a standalone discv5 node discovery service with
// the Portal content-routing overlay registered as a talk sub-protocol.
//
// Usage:
//
//	discv5node --config node.yaml
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/eth2030/discovery/common/netutil"
	"github.com/eth2030/discovery/log"
	"github.com/eth2030/discovery/p2p/discover"
	"github.com/eth2030/discovery/p2p/enode"
	"github.com/eth2030/discovery/p2p/portal"

	"github.com/ethereum/go-ethereum/crypto"
)

func main() {
	app := &cli.App{
		Name:  "discv5node",
		Usage: "run a discv5 node discovery service with the Portal overlay",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML node configuration file"},
			&cli.StringFlag{Name: "listen-addr", Value: "0.0.0.0:30303", Usage: "UDP listen address"},
			&cli.StringFlag{Name: "node-key", Value: "node.key", Usage: "path to the node's private key file"},
			&cli.StringSliceFlag{Name: "bootnode", Usage: "bootnode enode:// URL (repeatable)"},
			&cli.StringFlag{Name: "log-file", Usage: "if set, write rotating JSON logs here instead of stderr"},
			&cli.StringFlag{Name: "log-format", Value: "color", Usage: "stderr log format when --log-file is unset: color, text, or json"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "discv5node:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	var fc fileConfig
	if path := c.String("config"); path != "" {
		loaded, err := loadFileConfig(path)
		if err != nil {
			return fmt.Errorf("loading config %s: %w", path, err)
		}
		fc = loaded
	}

	if fc.LogFile == "" {
		fc.LogFile = c.String("log-file")
	}
	logger := newCLILogger(fc.LogFile, c.String("log-format")).Module("discv5node")

	listenAddr := c.String("listen-addr")
	if fc.ListenAddr != "" {
		listenAddr = fc.ListenAddr
	}
	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", listenAddr, err)
	}

	keyPath := fc.NodeKeyPath
	if keyPath == "" {
		keyPath = c.String("node-key")
	}
	priv, err := loadOrCreateNodeKey(keyPath)
	if err != nil {
		return fmt.Errorf("node key: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	ln := enode.NewLocalNode(priv, udpAddr.IP, uint16(udpAddr.Port), uint16(udpAddr.Port))

	var netRestrict *netutil.Netlist
	if fc.NetRestrict != "" {
		netRestrict, err = netutil.ParseNetlist(fc.NetRestrict)
		if err != nil {
			return fmt.Errorf("net-restrict: %w", err)
		}
	}

	bootnodes := fc.Bootnodes
	bootnodes = append(bootnodes, c.StringSlice("bootnode")...)

	cfg := discover.Config{
		PrivateKey:      priv,
		Bootnodes:       bootnodes,
		Log:             logger,
		NetRestrict:     netRestrict,
		RespTimeout:     fc.respTimeout(),
		RefreshInterval: fc.refreshInterval(),
		BucketIPLimit:   fc.BucketIPLimit,
		TableIPLimit:    fc.TableIPLimit,
	}

	proto, err := discover.ListenV5(conn, ln, cfg)
	if err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}
	defer proto.Close()

	storeCfg := portal.DefaultStoreConfig(ln.ID())
	if fc.PortalCapacityMB > 0 {
		storeCfg.MaxCapacity = uint64(fc.PortalCapacityMB) << 20
	}
	if fc.PortalDataDir != "" {
		storeCfg.PersistPath = fc.PortalDataDir
	}
	store, err := portal.NewStore(storeCfg)
	if err != nil {
		return fmt.Errorf("opening content store: %w", err)
	}
	defer store.Close()

	client := portal.NewClient(&talkerAdapter{proto}, store, ln, proto)
	proto.RegisterTalkHandler(portal.ProtocolID, func(fromID enode.NodeID, fromAddr string, request []byte) []byte {
		resp, err := client.HandleTalkRequest(fromID, request)
		if err != nil {
			logger.Debug("portal talk request failed", "from", fromAddr, "err", err)
			return nil
		}
		return resp
	})

	logger.Info("discv5node started", "enode", proto.Self().String(), "listen", listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
	return nil
}

// talkerAdapter satisfies portal.Talker over a *discover.UDPv5, which has
// no context-aware variant of TalkRequest; ctx is honored only insofar as
// it's already canceled before the call is made.
type talkerAdapter struct {
	proto *discover.UDPv5
}

func (a *talkerAdapter) TalkRequest(ctx context.Context, n *enode.Node, protocol string, request []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.proto.TalkRequest(n, protocol, request)
}

// newCLILogger builds the process logger: a rotating JSON file when
// logFile is set, otherwise one of the stderr formatters selected by
// --log-format.
func newCLILogger(logFile, format string) *log.Logger {
	if logFile != "" {
		return log.NewRotatingFile(log.RotatingFileConfig{Path: logFile})
	}
	var f log.LogFormatter
	switch format {
	case "text":
		f = &log.TextFormatter{}
	case "json":
		f = &log.JSONFormatter{}
	default:
		f = &log.ColorFormatter{}
	}
	return log.NewWithHandler(log.NewFormatterHandler(os.Stderr, f, nil))
}

func loadOrCreateNodeKey(path string) (*ecdsa.PrivateKey, error) {
	if key, err := crypto.LoadECDSA(path); err == nil {
		return key, nil
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return nil, fmt.Errorf("saving generated node key: %w", err)
	}
	return key, nil
}
