package stealth

import (
	"context"
	"embed"
	"fmt"

	"go.uber.org/zap"
)

//go:embed scripts/*.js
var scripts embed.FS

// overrideOrder is the order in which overrides are installed.
var overrideOrder = []string{
	"webdriver",
	"languages",
	"webgl",
	"canvas",
	"permissions",
	"screen",
	"timezone",
}

// ScriptInstaller registers a script to run in every new document before any
// page script.
type ScriptInstaller interface {
	AddScriptOnNewDocument(ctx context.Context, source string) error
}

// Override is one fingerprint patch.
type Override struct {
	Name   string
	Source string
}

// Overrides returns the built-in patches in installation order. Every source is
// wrapped so that a failure inside it only reports to the page console.
func Overrides() ([]Override, error) {
	out := make([]Override, 0, len(overrideOrder))
	for _, name := range overrideOrder {
		body, err := scripts.ReadFile("scripts/" + name + ".js")
		if err != nil {
			return nil, fmt.Errorf("failed to read override %q: %w", name, err)
		}
		out = append(out, Override{Name: name, Source: wrap(name, string(body))})
	}
	return out, nil
}

func wrap(name, body string) string {
	return fmt.Sprintf("(() => {\ntry {\n%s\n} catch (e) {\nconsole.debug('[fingerprint:%s]', e && e.message);\n}\n})();", body, name)
}

// Injector installs the fingerprint overrides into a browsing context.
type Injector struct {
	overrides []Override
	logger    *zap.Logger
}

// NewInjector loads the embedded overrides.
func NewInjector(logger *zap.Logger) (*Injector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	overrides, err := Overrides()
	if err != nil {
		return nil, err
	}
	return &Injector{overrides: overrides, logger: logger.Named("stealth")}, nil
}

// Install registers every override on target. Overrides are independent: a
// failed registration is logged and the remaining ones are still attempted.
func (i *Injector) Install(ctx context.Context, target ScriptInstaller) {
	installed := 0
	for _, o := range i.overrides {
		if err := target.AddScriptOnNewDocument(ctx, o.Source); err != nil {
			i.logger.Warn("Failed to install fingerprint override.", zap.String("override", o.Name), zap.Error(err))
			continue
		}
		installed++
	}
	i.logger.Debug("Fingerprint overrides installed.",
		zap.Int("installed", installed),
		zap.Int("total", len(i.overrides)),
	)
}
