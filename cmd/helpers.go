package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/adminclient"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/app"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/errors"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
)

// loadConfig loads the file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.KindOf(err) == errors.KindGeneral {
			return nil, errors.ConfigError("failed to load "+configPath, err)
		}
		return nil, err
	}
	return cfg, nil
}

// newApp loads the configuration and builds every component.
func newApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, app.WithLogger(slog.Default()))
}

// adminClient connects to addr, or to the admin address from the
// configuration when addr is empty.
func adminClient(addr string) *adminclient.Client {
	if addr == "" {
		addr = config.DefaultAdminAddr
		if cfg, err := loadConfig(); err == nil && cfg.Listen.Admin != "" {
			addr = cfg.Listen.Admin
		}
	}
	return adminclient.New(addr, nil)
}

func checkOutput(format string) error {
	switch format {
	case outputText, outputJSON:
		return nil
	}
	return errors.ValidationError(fmt.Sprintf("unknown output format %q (want text or json)", format))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
