// Package backend defines the two contracts a database under test must
// implement: Cluster, which owns the node list and the schema lifecycle,
// and NodeExecutor, which runs one session against one node. It also holds
// the retry-until-commit session runner shared by all implementations and
// the registry the CLI resolves backend names through.
package backend
