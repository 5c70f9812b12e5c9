package discover

import (
	"crypto/ecdsa"
	"time"

	"github.com/eth2030/discovery/common/mclock"
	"github.com/eth2030/discovery/common/netutil"
	"github.com/eth2030/discovery/log"
)

// Config holds settings for the discovery protocol instance.
type Config struct {
	// PrivateKey signs outgoing packets and ENR records. Required.
	PrivateKey *ecdsa.PrivateKey

	// Bootnodes seed the routing table on startup.
	Bootnodes []string

	// Unhandled, if set, receives packets this protocol doesn't recognize
	// as discv5 traffic, so another protocol sharing the UDP port can see them.
	Unhandled chan<- ReadPacket

	// Log is the logger used throughout the protocol instance.
	Log *log.Logger

	// Clock abstracts time for deterministic testing.
	Clock mclock.Clock

	// NetRestrict, if set, restricts neighbor discovery to the given subnets.
	NetRestrict *netutil.Netlist

	// RespTimeout is how long a call waits for a response before timing out.
	RespTimeout time.Duration

	// PingInterval is defaulted but not read by the table, which revalidates
	// one node every revalidateInterval (10 s).
	PingInterval time.Duration

	// RefreshInterval governs how often the table refreshes: a seed query,
	// a self lookup and three random lookups.
	RefreshInterval time.Duration

	// Bucket/table IP-diversity limits.
	BucketIPLimit int
	TableIPLimit  int

	// ProtocolID tags packets of this protocol instance (normally "discv5").
	ProtocolID string

	// NoFindnodeLivenessCheck disables the liveness filter on FINDNODE
	// responses; only meant for tests.
	NoFindnodeLivenessCheck bool
}

func (cfg Config) withDefaults() Config {
	if cfg.Log == nil {
		cfg.Log = log.Default().Module("discover")
	}
	if cfg.Clock == nil {
		cfg.Clock = mclock.System{}
	}
	if cfg.RespTimeout == 0 {
		cfg.RespTimeout = 4 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 10 * time.Minute
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.BucketIPLimit == 0 {
		cfg.BucketIPLimit = 2
	}
	if cfg.TableIPLimit == 0 {
		cfg.TableIPLimit = 10
	}
	if cfg.ProtocolID == "" {
		cfg.ProtocolID = "discv5"
	}
	return cfg
}
