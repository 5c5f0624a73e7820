package settings

import (
	"sort"
	"strconv"
	"strings"
)

// Well-known Elasticsearch node setting keys used by the runner.
const (
	KeyClusterName        = "cluster.name"
	KeyNodeName           = "node.name"
	KeyNodeRoles          = "node.roles"
	KeyPathHome           = "path.home"
	KeyPathData           = "path.data"
	KeyPathLogs           = "path.logs"
	KeyPathPlugins        = "path.plugins"
	KeyHTTPPort           = "http.port"
	KeyTransportPort      = "transport.port"
	KeyIndexStoreType     = "index.store.type"
	KeyNetworkHost        = "network.host"
	KeySeedHosts          = "discovery.seed_hosts"
	KeyInitialMasterNodes = "cluster.initial_master_nodes"
)

// Settings is an immutable, string-valued node configuration.
type Settings struct {
	m map[string]string
}

// Get returns the value for key and whether it is set.
func (s Settings) Get(key string) (string, bool) {
	v, ok := s.m[key]
	return v, ok
}

// Value returns the value for key, or "" when unset.
func (s Settings) Value(key string) string {
	return s.m[key]
}

// Int parses the value for key as an integer.
func (s Settings) Int(key string) (int, bool) {
	v, ok := s.m[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Len returns the number of keys.
func (s Settings) Len() int {
	return len(s.m)
}

// Keys returns all keys in lexical order.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the underlying key/value pairs.
func (s Settings) Map() map[string]string {
	out := make(map[string]string, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}

// WithPrefix returns the subset of keys starting with prefix.
func (s Settings) WithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	for k, v := range s.m {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

// Builder accumulates node settings. A Builder is handed to exactly one
// callback at a time and frozen with Build.
type Builder struct {
	m map[string]string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{m: make(map[string]string)}
}

// From returns a Builder seeded with a copy of s.
func From(s Settings) *Builder {
	return &Builder{m: s.Map()}
}

// Put sets key to value, replacing any previous value.
func (b *Builder) Put(key, value string) *Builder {
	b.m[key] = value
	return b
}

// PutBool sets key to "true" or "false".
func (b *Builder) PutBool(key string, value bool) *Builder {
	return b.Put(key, strconv.FormatBool(value))
}

// PutInt sets key to the decimal form of value.
func (b *Builder) PutInt(key string, value int) *Builder {
	return b.Put(key, strconv.Itoa(value))
}

// PutList sets key to a comma-separated list, the form Elasticsearch accepts
// for list settings passed on the command line.
func (b *Builder) PutList(key string, values ...string) *Builder {
	return b.Put(key, strings.Join(values, ","))
}

// PutIfAbsent sets key only when it is not already present and value is
// non-empty. It reports whether the value was written.
func (b *Builder) PutIfAbsent(key, value string) bool {
	if value == "" {
		return false
	}
	if _, ok := b.m[key]; ok {
		return false
	}
	b.m[key] = value
	return true
}

// Get returns the current value for key.
func (b *Builder) Get(key string) (string, bool) {
	v, ok := b.m[key]
	return v, ok
}

// Has reports whether key is set.
func (b *Builder) Has(key string) bool {
	_, ok := b.m[key]
	return ok
}

// Remove deletes key.
func (b *Builder) Remove(key string) *Builder {
	delete(b.m, key)
	return b
}

// Build freezes the current contents into an immutable Settings. The
// Builder may keep being used; later changes do not affect the result.
func (b *Builder) Build() Settings {
	out := make(map[string]string, len(b.m))
	for k, v := range b.m {
		out[k] = v
	}
	return Settings{m: out}
}

// OnBuild customises the settings of the node with the given 1-based index
// before any defaults are filled in.
type OnBuild func(index int, b *Builder)
