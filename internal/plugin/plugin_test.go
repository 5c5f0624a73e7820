package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dm/es-cluster-runner/internal/settings"
)

func TestResolve_SkipsUnknownModules(t *testing.T) {
	got, err := Resolve([]string{SecurityDisabled, "no-such-module"}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, SecurityDisabled, got[0].Name())
}

func TestResolve_UnknownPluginFails(t *testing.T) {
	_, err := Resolve(nil, []string{"analysis-missing"}, nil)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "analysis-missing", nf.Name)
}

func TestResolve_OrderModulesThenPlugins(t *testing.T) {
	got, err := Resolve([]string{MLDisabled}, []string{CORS}, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, MLDisabled, got[0].Name())
	assert.Equal(t, CORS, got[1].Name())
}

func TestApply_DoesNotOverrideUserValues(t *testing.T) {
	b := settings.NewBuilder().Put("http.cors.allow-origin", "http://localhost:3000")
	plugins, err := Resolve(nil, []string{CORS}, nil)
	require.NoError(t, err)

	Apply(plugins, 1, b)
	s := b.Build()
	assert.Equal(t, "true", s.Value("http.cors.enabled"))
	assert.Equal(t, "http://localhost:3000", s.Value("http.cors.allow-origin"))
}

type countingPlugin struct{ calls []int }

func (c *countingPlugin) Name() string { return "counting" }
func (c *countingPlugin) Configure(index int, b *settings.Builder) {
	c.calls = append(c.calls, index)
	b.PutIfAbsent("custom.node", "yes")
}

func TestRegister_CustomPlugin(t *testing.T) {
	cp := &countingPlugin{}
	Register("counting", func() Plugin { return cp })
	t.Cleanup(func() {
		mu.Lock()
		delete(registry, "counting")
		mu.Unlock()
	})

	assert.Contains(t, Names(), "counting")
	plugins, err := Resolve(nil, []string{"counting"}, nil)
	require.NoError(t, err)

	b := settings.NewBuilder()
	Apply(plugins, 2, b)
	assert.Equal(t, []int{2}, cp.calls)
	assert.True(t, b.Has("custom.node"))
}

func TestDefaultModulesAreRegistered(t *testing.T) {
	for _, name := range DefaultModules {
		_, ok := Lookup(name)
		assert.True(t, ok, name)
	}
}
