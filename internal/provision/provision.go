package provision

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dm/es-cluster-runner/internal/settings"
)

// File and directory names inside a node home.
const (
	ConfigFile    = "elasticsearch.yml"
	LogConfigFile = "log4j2.properties"

	ConfigDir  = "config"
	DataDir    = "data"
	LogsDir    = "logs"
	PluginsDir = "plugins"
	ModulesDir = "modules"
)

//go:embed templates/*
var templates embed.FS

// Error reports a failure while preparing a node directory tree.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provision %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Paths is the directory layout of one node.
type Paths struct {
	Home    string
	Config  string
	Data    string
	Logs    string
	Plugins string
	Modules string
}

// Provisioner creates per-node directory trees under a base path.
type Provisioner struct {
	BasePath string
	// ConfPath, DataPath and LogsPath replace the per-node defaults when set.
	ConfPath string
	DataPath string
	LogsPath string
	// DisableLogConfig skips seeding log4j2.properties.
	DisableLogConfig bool
	// Print receives "Creating <dir>" progress lines. May be nil.
	Print func(string)
}

// Layout computes the paths of node index without touching the filesystem.
func (p *Provisioner) Layout(index int) Paths {
	home := filepath.Join(p.BasePath, "node_"+strconv.Itoa(index))
	paths := Paths{
		Home:    home,
		Config:  filepath.Join(home, ConfigDir),
		Data:    filepath.Join(home, DataDir),
		Logs:    filepath.Join(home, LogsDir),
		Plugins: filepath.Join(home, PluginsDir),
		Modules: filepath.Join(home, ModulesDir),
	}
	if p.ConfPath != "" {
		paths.Config = p.ConfPath
	}
	if p.DataPath != "" {
		paths.Data = p.DataPath
	}
	if p.LogsPath != "" {
		paths.Logs = p.LogsPath
	}
	return paths
}

// Provision creates the directory tree of node index and seeds the default
// configuration files when they are missing. Running it again on an existing
// tree changes nothing.
func (p *Provisioner) Provision(index int) (Paths, error) {
	paths := p.Layout(index)
	for _, dir := range []string{paths.Home, paths.Config, paths.Logs, paths.Data, paths.Plugins, paths.Modules} {
		if err := p.createDir(dir); err != nil {
			return Paths{}, err
		}
	}

	if err := seedTemplate(ConfigFile, filepath.Join(paths.Config, ConfigFile)); err != nil {
		return Paths{}, err
	}
	if !p.DisableLogConfig {
		if err := seedTemplate(LogConfigFile, filepath.Join(paths.Config, LogConfigFile)); err != nil {
			return Paths{}, err
		}
	}
	return paths, nil
}

// InstallPlugins copies the tree named by path.plugins into the node's plugin
// directory and removes the key, so the node loads the copy.
func (p *Provisioner) InstallPlugins(paths Paths, b *settings.Builder) error {
	src, ok := b.Get(settings.KeyPathPlugins)
	if !ok {
		return nil
	}
	if err := CopyTree(src, paths.Plugins); err != nil {
		return err
	}
	b.Remove(settings.KeyPathPlugins)
	return nil
}

func (p *Provisioner) createDir(dir string) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if p.Print != nil {
		p.Print("Creating " + dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &Error{Path: dir, Err: err}
	}
	return nil
}

// seedTemplate copies the embedded template name to dst unless dst exists.
func seedTemplate(name, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	data, err := templates.ReadFile("templates/" + name)
	if err != nil {
		return &Error{Path: dst, Err: fmt.Errorf("missing template %s: %w", name, err)}
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return &Error{Path: dst, Err: err}
	}
	return nil
}

// CopyTree recursively copies the directory src into dst, replacing files
// that already exist.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return &Error{Path: path, Err: walkErr}
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return &Error{Path: path, Err: err}
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &Error{Path: target, Err: err}
			}
			return nil
		}
		if err := copyFile(path, target); err != nil {
			return &Error{Path: target, Err: err}
		}
		return nil
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
