// Package config holds the cluster configuration and its command-line and
// YAML front ends.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults shared by the CLI and programmatic callers.
const (
	DefaultClusterName       = "elasticsearch-cluster-runner"
	DefaultNumOfNode         = 3
	DefaultBaseHTTPPort      = 9200
	DefaultMaxHTTPPort       = 9299
	DefaultBaseTransportPort = 9300
	DefaultMaxTransportPort  = 9399
	DefaultIndexStoreType    = "fs"
	DefaultStartTimeout      = 2 * time.Minute
	DefaultHealthTimeout     = 30 * time.Second
)

// Config describes the cluster to launch. It is read-only once handed to
// the runner.
type Config struct {
	ClusterName       string `yaml:"clusterName"`
	NumOfNode         int    `yaml:"numOfNode"`
	BaseHTTPPort      int    `yaml:"baseHttpPort"`
	MaxHTTPPort       int    `yaml:"maxHttpPort"`
	BaseTransportPort int    `yaml:"baseTransportPort"`
	MaxTransportPort  int    `yaml:"maxTransportPort"`

	// BasePath is the root of all node directories. Empty means a fresh
	// temporary directory.
	BasePath string `yaml:"basePath"`
	ConfPath string `yaml:"confPath"`
	DataPath string `yaml:"dataPath"`
	LogsPath string `yaml:"logsPath"`

	IndexStoreType string `yaml:"indexStoreType"`
	// ModuleTypes nil selects the default module set; an empty slice
	// selects none.
	ModuleTypes []string `yaml:"moduleTypes"`
	PluginTypes []string `yaml:"pluginTypes"`

	UseLogger       bool `yaml:"useLogger"`
	DisableESLogger bool `yaml:"disableESLogger"`
	PrintOnFailure  bool `yaml:"printOnFailure"`

	ESHome        string        `yaml:"esHome"`
	JavaOpts      string        `yaml:"javaOpts"`
	StartTimeout  time.Duration `yaml:"startTimeout"`
	HealthTimeout time.Duration `yaml:"healthTimeout"`

	Console     bool `yaml:"console"`
	CleanOnExit bool `yaml:"cleanOnExit"`
}

// Default returns the configuration used when nothing is specified. ESHome
// is taken from the ES_HOME environment variable.
func Default() Config {
	return Config{
		ClusterName:       DefaultClusterName,
		NumOfNode:         DefaultNumOfNode,
		BaseHTTPPort:      DefaultBaseHTTPPort,
		MaxHTTPPort:       DefaultMaxHTTPPort,
		BaseTransportPort: DefaultBaseTransportPort,
		MaxTransportPort:  DefaultMaxTransportPort,
		IndexStoreType:    DefaultIndexStoreType,
		ESHome:            os.Getenv("ES_HOME"),
		StartTimeout:      DefaultStartTimeout,
		HealthTimeout:     DefaultHealthTimeout,
	}
}

// Validate checks the invariants the runner relies on.
func (c Config) Validate() error {
	if c.NumOfNode <= 0 {
		return fmt.Errorf("numOfNode must be positive, got %d", c.NumOfNode)
	}
	if err := checkRange("http", c.BaseHTTPPort, c.MaxHTTPPort); err != nil {
		return err
	}
	if err := checkRange("transport", c.BaseTransportPort, c.MaxTransportPort); err != nil {
		return err
	}
	if c.StartTimeout < 0 || c.HealthTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// A negative max disables probing, so only the base needs to be a port.
func checkRange(name string, base, max int) error {
	if base <= 0 || base > 65535 {
		return fmt.Errorf("base %s port %d out of range", name, base)
	}
	if max >= 0 && max < base {
		return fmt.Errorf("max %s port %d is below base %d", name, max, base)
	}
	return nil
}

// ParseError reports invalid command-line arguments or configuration.
type ParseError struct {
	Args []string
	Err  error
}

func (e *ParseError) Error() string {
	return "invalid arguments: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// LoadFile merges the YAML document at path into cfg. Keys absent from the
// file keep their current value; unknown keys are rejected.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// flagValues mirrors Config for flag binding. Module and plugin lists are
// comma-separated on the command line.
type flagValues struct {
	Config
	configFile string
	modules    string
	plugins    string
}

func newFlagSet(v *flagValues) *flag.FlagSet {
	fs := flag.NewFlagSet("esrunner", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	d := Default()

	fs.StringVar(&v.BasePath, "basePath", "", "base directory for node homes (default: a new temp dir)")
	fs.StringVar(&v.ConfPath, "confPath", "", "config directory override for every node")
	fs.StringVar(&v.DataPath, "dataPath", "", "data directory override for every node")
	fs.StringVar(&v.LogsPath, "logsPath", "", "logs directory override for every node")
	fs.IntVar(&v.NumOfNode, "numOfNode", d.NumOfNode, "number of nodes")
	fs.IntVar(&v.BaseHTTPPort, "baseHttpPort", d.BaseHTTPPort, "first HTTP port to try")
	fs.IntVar(&v.MaxHTTPPort, "maxHttpPort", d.MaxHTTPPort, "last HTTP port to try (negative disables probing)")
	fs.IntVar(&v.BaseTransportPort, "baseTransportPort", d.BaseTransportPort, "first transport port to try")
	fs.IntVar(&v.MaxTransportPort, "maxTransportPort", d.MaxTransportPort, "last transport port to try (negative disables probing)")
	fs.StringVar(&v.ClusterName, "clusterName", d.ClusterName, "cluster name")
	fs.StringVar(&v.IndexStoreType, "indexStoreType", d.IndexStoreType, "default index.store.type")
	fs.BoolVar(&v.UseLogger, "useLogger", false, "print through the structured logger")
	fs.BoolVar(&v.DisableESLogger, "disableESLogger", false, "do not seed log4j2.properties")
	fs.BoolVar(&v.PrintOnFailure, "printOnFailure", false, "print operation failures instead of returning them")
	fs.StringVar(&v.modules, "moduleTypes", "", "comma-separated module names")
	fs.StringVar(&v.plugins, "pluginTypes", "", "comma-separated plugin names")
	fs.StringVar(&v.ESHome, "esHome", d.ESHome, "Elasticsearch installation directory (default $ES_HOME)")
	fs.StringVar(&v.JavaOpts, "javaOpts", "", "ES_JAVA_OPTS passed to every node")
	fs.DurationVar(&v.StartTimeout, "startTimeout", d.StartTimeout, "time to wait for a node to answer")
	fs.DurationVar(&v.HealthTimeout, "healthTimeout", d.HealthTimeout, "budget for health waits")
	fs.StringVar(&v.configFile, "config", "", "YAML configuration file; flags override its values")
	fs.BoolVar(&v.Console, "console", false, "open the interactive cluster console")
	fs.BoolVar(&v.CleanOnExit, "cleanOnExit", false, "delete the base path after shutdown")
	return fs
}

// Usage writes the flag reference to w.
func Usage(w io.Writer) {
	fs := newFlagSet(&flagValues{})
	fs.SetOutput(w)
	fmt.Fprintf(w, "usage: esrunner [flags]\n\n")
	fs.PrintDefaults()
}

// Parse builds a Config from command-line arguments. Values come from
// Default, then the -config file, then the flags that were set explicitly.
// -h yields a ParseError wrapping flag.ErrHelp.
func Parse(args []string) (Config, error) {
	var v flagValues
	fs := newFlagSet(&v)
	if err := fs.Parse(args); err != nil {
		return Config{}, &ParseError{Args: args, Err: err}
	}
	if fs.NArg() > 0 {
		return Config{}, &ParseError{Args: args, Err: fmt.Errorf("unexpected argument %q", fs.Arg(0))}
	}

	cfg := Default()
	if v.configFile != "" {
		if err := LoadFile(v.configFile, &cfg); err != nil {
			return Config{}, &ParseError{Args: args, Err: err}
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "basePath":
			cfg.BasePath = v.BasePath
		case "confPath":
			cfg.ConfPath = v.ConfPath
		case "dataPath":
			cfg.DataPath = v.DataPath
		case "logsPath":
			cfg.LogsPath = v.LogsPath
		case "numOfNode":
			cfg.NumOfNode = v.NumOfNode
		case "baseHttpPort":
			cfg.BaseHTTPPort = v.BaseHTTPPort
		case "maxHttpPort":
			cfg.MaxHTTPPort = v.MaxHTTPPort
		case "baseTransportPort":
			cfg.BaseTransportPort = v.BaseTransportPort
		case "maxTransportPort":
			cfg.MaxTransportPort = v.MaxTransportPort
		case "clusterName":
			cfg.ClusterName = v.ClusterName
		case "indexStoreType":
			cfg.IndexStoreType = v.IndexStoreType
		case "useLogger":
			cfg.UseLogger = v.UseLogger
		case "disableESLogger":
			cfg.DisableESLogger = v.DisableESLogger
		case "printOnFailure":
			cfg.PrintOnFailure = v.PrintOnFailure
		case "moduleTypes":
			cfg.ModuleTypes = splitList(v.modules)
		case "pluginTypes":
			cfg.PluginTypes = splitList(v.plugins)
		case "esHome":
			cfg.ESHome = v.ESHome
		case "javaOpts":
			cfg.JavaOpts = v.JavaOpts
		case "startTimeout":
			cfg.StartTimeout = v.StartTimeout
		case "healthTimeout":
			cfg.HealthTimeout = v.HealthTimeout
		case "console":
			cfg.Console = v.Console
		case "cleanOnExit":
			cfg.CleanOnExit = v.CleanOnExit
		}
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, &ParseError{Args: args, Err: err}
	}
	return cfg, nil
}

// splitList returns a non-nil slice so an explicitly empty flag disables the
// defaults.
func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Args builds a command line for Parse fluently:
//
//	args := config.NewArgs().NumOfNode(1).BasePath(dir).Build()
type Args struct {
	args []string
}

// NewArgs returns an empty Args.
func NewArgs() *Args {
	return &Args{}
}

func (a *Args) set(name, value string) *Args {
	a.args = append(a.args, "-"+name+"="+value)
	return a
}

func (a *Args) BasePath(p string) *Args { return a.set("basePath", p) }
func (a *Args) ConfPath(p string) *Args { return a.set("confPath", p) }
func (a *Args) DataPath(p string) *Args { return a.set("dataPath", p) }
func (a *Args) LogsPath(p string) *Args { return a.set("logsPath", p) }
func (a *Args) NumOfNode(n int) *Args { return a.set("numOfNode", strconv.Itoa(n)) }
func (a *Args) BaseHTTPPort(p int) *Args { return a.set("baseHttpPort", strconv.Itoa(p)) }
func (a *Args) MaxHTTPPort(p int) *Args { return a.set("maxHttpPort", strconv.Itoa(p)) }
func (a *Args) BaseTransportPort(p int) *Args { return a.set("baseTransportPort", strconv.Itoa(p)) }
func (a *Args) MaxTransportPort(p int) *Args { return a.set("maxTransportPort", strconv.Itoa(p)) }
func (a *Args) ClusterName(name string) *Args { return a.set("clusterName", name) }
func (a *Args) IndexStoreType(t string) *Args { return a.set("indexStoreType", t) }
func (a *Args) UseLogger() *Args { return a.set("useLogger", "true") }
func (a *Args) DisableESLogger() *Args { return a.set("disableESLogger", "true") }
func (a *Args) PrintOnFailure() *Args { return a.set("printOnFailure", "true") }
func (a *Args) ESHome(p string) *Args { return a.set("esHome", p) }
func (a *Args) JavaOpts(opts string) *Args { return a.set("javaOpts", opts) }
func (a *Args) ConfigFile(p string) *Args { return a.set("config", p) }
func (a *Args) Console() *Args { return a.set("console", "true") }
func (a *Args) CleanOnExit() *Args { return a.set("cleanOnExit", "true") }
func (a *Args) StartTimeout(d time.Duration) *Args {
	return a.set("startTimeout", d.String())
}
func (a *Args) HealthTimeout(d time.Duration) *Args {
	return a.set("healthTimeout", d.String())
}

// ModuleTypes selects the modules to load. Calling it with no names
// disables the default modules.
func (a *Args) ModuleTypes(names ...string) *Args {
	return a.set("moduleTypes", strings.Join(names, ","))
}

// PluginTypes selects the plugins to load.
func (a *Args) PluginTypes(names ...string) *Args {
	return a.set("pluginTypes", strings.Join(names, ","))
}

// Build returns the accumulated arguments.
func (a *Args) Build() []string {
	return append([]string(nil), a.args...)
}
