package backend

import (
	"net"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/seantiz/dbcop/internal/model"
)

// ErrNoSuchNode is returned when a node ordinal is out of range.
var ErrNoSuchNode = errors.New("no such node")

// ParseNodes resolves host:port addresses into a node list with 1-based
// ordinals in the given order.
func ParseNodes(addrs []string) ([]model.Node, error) {
	if len(addrs) == 0 {
		return nil, errors.WithHint(errors.New("no node addresses given"),
			"pass at least one host:port address")
	}
	nodes := make([]model.Node, 0, len(addrs))
	for i, addr := range addrs {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "node %d", i+1)
		}
		if host == "" {
			return nil, errors.Newf("node %d: address %q has no host", i+1, addr)
		}
		if p, err := strconv.ParseUint(port, 10, 16); err != nil || p == 0 {
			return nil, errors.Newf("node %d: invalid port in %q", i+1, addr)
		}
		nodes = append(nodes, model.Node{Addr: addr, ID: i + 1})
	}
	return nodes, nil
}

// NodeSet implements the node bookkeeping part of Cluster. Backends embed it.
type NodeSet []model.Node

// NodeCount returns the number of nodes.
func (ns NodeSet) NodeCount() int { return len(ns) }

// Node returns node id (1-based).
func (ns NodeSet) Node(id int) (model.Node, error) {
	if id < 1 || id > len(ns) {
		return model.Node{}, errors.Wrapf(ErrNoSuchNode, "node %d of %d", id, len(ns))
	}
	return ns[id-1], nil
}
