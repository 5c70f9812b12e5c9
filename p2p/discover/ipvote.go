package discover

import (
	"net"
	"time"

	"github.com/eth2030/discovery/p2p/enode"
)

// ipVoteMinVotes is how many distinct peers must agree on an external
// address, within ipVoteWindow, before the local record is updated.
const (
	ipVoteMinVotes = 10
	ipVoteWindow   = 5 * time.Minute
)

// ipVote records one peer's statement of what they observed as our UDP
// endpoint, learned from the ToIP/ToPort fields of a PONG in the full
// protocol; this module's Pong carries no such fields (see DESIGN.md), so
// ipVoter is driven instead from addresses observed directly on the
// socket (the source address of any packet that completed a handshake).
type ipVote struct {
	id   enode.NodeID
	ip   string
	seen time.Time
}

// ipVoter accumulates endpoint votes from distinct peers and flips the
// local node's advertised IP once a majority agrees, matching Section 9's
// "IP-vote majority loop".
type ipVoter struct {
	votes []ipVote
	local *enode.LocalNode
}

func newIPVoter(local *enode.LocalNode) *ipVoter {
	return &ipVoter{local: local}
}

// vote records that peer claims our external address is ip, and updates
// the local record if a majority of recent, distinct voters now agree.
func (v *ipVoter) vote(peer enode.NodeID, ip net.IP) {
	if ip == nil || !isRoutable(ip) {
		return
	}
	now := time.Now()
	v.votes = append(v.votes, ipVote{id: peer, ip: ip.String(), seen: now})
	v.prune(now)

	tally := make(map[string]map[enode.NodeID]bool)
	allVoters := make(map[enode.NodeID]bool)
	for _, vt := range v.votes {
		if tally[vt.ip] == nil {
			tally[vt.ip] = make(map[enode.NodeID]bool)
		}
		tally[vt.ip][vt.id] = true
		allVoters[vt.id] = true
	}
	for ipStr, voters := range tally {
		if len(voters) >= ipVoteMinVotes && 2*len(voters) > len(allVoters) {
			if parsed := net.ParseIP(ipStr); parsed != nil {
				if v.local.SetIP(parsed) {
					newMetrics().enrAutoUpdate.Inc()
				}
			}
			return
		}
	}
}

func (v *ipVoter) prune(now time.Time) {
	cutoff := now.Add(-ipVoteWindow)
	kept := v.votes[:0]
	for _, vt := range v.votes {
		if vt.seen.After(cutoff) {
			kept = append(kept, vt)
		}
	}
	v.votes = kept
}

func isRoutable(ip net.IP) bool {
	return !ip.IsUnspecified() && !ip.IsMulticast()
}
