package model

import "fmt"

// Node is one member of a cluster: a resolved host:port address and its
// 1-based ordinal. It carries no live connection.
type Node struct {
	Addr string `json:"addr" yaml:"addr"`
	ID   int    `json:"id" yaml:"id"`
}

func (n Node) String() string {
	return fmt.Sprintf("node-%d(%s)", n.ID, n.Addr)
}
