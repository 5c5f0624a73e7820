package settings

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// Paths are the filesystem locations filled in when the user left them unset.
type Paths struct {
	Home string
	Data string
	Logs string
}

// Identity holds the cluster-level defaults for one node.
type Identity struct {
	ClusterName        string
	NodeName           string
	Roles              []string
	IndexStoreType     string
	NetworkHost        string
	SeedHosts          []string
	InitialMasterNodes []string
}

// DefaultRoles are the roles every runner node takes unless configured otherwise.
var DefaultRoles = []string{"master", "data", "ingest"}

// ApplyPaths fills the path keys that are still absent, using absolute paths.
func ApplyPaths(b *Builder, p Paths) {
	b.PutIfAbsent(KeyPathHome, absPath(p.Home))
	b.PutIfAbsent(KeyPathData, absPath(p.Data))
	b.PutIfAbsent(KeyPathLogs, absPath(p.Logs))
}

// ApplyPorts fills http.port and transport.port when they are absent. A zero
// port leaves the key alone.
func ApplyPorts(b *Builder, httpPort, transportPort int) {
	if httpPort > 0 {
		b.PutIfAbsent(KeyHTTPPort, strconv.Itoa(httpPort))
	}
	if transportPort > 0 {
		b.PutIfAbsent(KeyTransportPort, strconv.Itoa(transportPort))
	}
}

// ApplyIdentity fills cluster name, node name, roles, store type, network
// host and discovery keys when they are absent.
func ApplyIdentity(b *Builder, id Identity) {
	b.PutIfAbsent(KeyClusterName, id.ClusterName)
	b.PutIfAbsent(KeyNodeName, id.NodeName)
	roles := id.Roles
	if roles == nil {
		roles = DefaultRoles
	}
	if len(roles) > 0 && !b.Has(KeyNodeRoles) {
		b.PutList(KeyNodeRoles, roles...)
	}
	b.PutIfAbsent(KeyIndexStoreType, id.IndexStoreType)
	b.PutIfAbsent(KeyNetworkHost, id.NetworkHost)
	if len(id.SeedHosts) > 0 && !b.Has(KeySeedHosts) {
		b.PutList(KeySeedHosts, id.SeedHosts...)
	}
	if len(id.InitialMasterNodes) > 0 && !b.Has(KeyInitialMasterNodes) {
		b.PutList(KeyInitialMasterNodes, id.InitialMasterNodes...)
	}
}

// PortFromBuilder returns the port already configured under key, if any.
func PortFromBuilder(b *Builder, key string) (int, bool, error) {
	v, ok := b.Get(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 65535 {
		return 0, true, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, true, nil
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
