package stealth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// recordingInstaller captures every script and fails on demand.
type recordingInstaller struct {
	scripts []string
	failOn  func(source string) bool
}

func (r *recordingInstaller) AddScriptOnNewDocument(_ context.Context, source string) error {
	if r.failOn != nil && r.failOn(source) {
		return errors.New("target closed")
	}
	r.scripts = append(r.scripts, source)
	return nil
}

func TestOverrides(t *testing.T) {
	overrides, err := Overrides()
	require.NoError(t, err)
	require.Len(t, overrides, 7)

	var names []string
	for _, o := range overrides {
		names = append(names, o.Name)
		assert.True(t, strings.HasPrefix(o.Source, "(() => {\ntry {"), o.Name)
		assert.Contains(t, o.Source, "catch (e)", o.Name)
		assert.Contains(t, o.Source, "[fingerprint:"+o.Name+"]")
	}
	assert.Equal(t, []string{"webdriver", "languages", "webgl", "canvas", "permissions", "screen", "timezone"}, names)

	byName := map[string]string{}
	for _, o := range overrides {
		byName[o.Name] = o.Source
	}
	assert.Contains(t, byName["webgl"], "37445")
	assert.Contains(t, byName["webgl"], "Intel Iris OpenGL Engine")
	assert.Contains(t, byName["screen"], "availHeight: 1040")
	assert.Contains(t, byName["permissions"], "Notification.permission")
	assert.Contains(t, byName["languages"], "'en-US', 'en'")
}

func TestInjectorInstall(t *testing.T) {
	t.Run("installs all overrides in order", func(t *testing.T) {
		inj, err := NewInjector(zap.NewNop())
		require.NoError(t, err)

		target := &recordingInstaller{}
		inj.Install(context.Background(), target)

		require.Len(t, target.scripts, 7)
		assert.Contains(t, target.scripts[0], "webdriver")
		assert.Contains(t, target.scripts[6], "getTimezoneOffset")
	})

	t.Run("a failing override does not stop the rest", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		inj, err := NewInjector(zap.New(core))
		require.NoError(t, err)

		target := &recordingInstaller{failOn: func(source string) bool {
			return strings.Contains(source, "[fingerprint:webgl]") || strings.Contains(source, "[fingerprint:screen]")
		}}
		inj.Install(context.Background(), target)

		assert.Len(t, target.scripts, 5)

		warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
		require.Len(t, warnings, 2)
		assert.Equal(t, "webgl", warnings[0].ContextMap()["override"])
		assert.Equal(t, "screen", warnings[1].ContextMap()["override"])

		summary := logs.FilterMessage("Fingerprint overrides installed.").All()
		require.Len(t, summary, 1)
		assert.EqualValues(t, 5, summary[0].ContextMap()["installed"])
	})
}
