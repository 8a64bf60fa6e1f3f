package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"FedSearch/internal/config"
	"FedSearch/internal/instances"
)

const discoveryTimeout = 30 * time.Second

// loadInstances fills the registry from the first configured source: the
// instances file, the list URL, the static list, and finally the public
// directory. A remote source that cannot be reached leaves the registry empty
// rather than failing; an unreadable local file is an error.
func loadInstances(ctx context.Context, cfg config.InstancesConfig, registry *instances.Registry, hc *http.Client, logger *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	var (
		n      int
		err    error
		source string
		remote bool
	)
	switch {
	case cfg.File != "":
		source = cfg.File
		n, err = registry.LoadFile(cfg.File)
	case cfg.ListURL != "":
		source, remote = cfg.ListURL, true
		n, err = registry.FetchURL(ctx, hc, cfg.ListURL)
	case len(cfg.Static) > 0:
		source = "config"
		n = registry.Set(cfg.Static)
	default:
		source, remote = cfg.DiscoveryURL, true
		if source == "" {
			source = instances.DefaultDiscoveryURL
		}
		n, err = registry.Discover(ctx, hc, source)
	}

	log := logger.WithField("source", source)
	if err != nil {
		if !remote {
			return fmt.Errorf("loading instances from %s: %w", source, err)
		}
		log.WithError(err).Warn("Could not fetch instances")
	}

	log = log.WithField("count", n)
	if n == 0 {
		log.Warn("Starting with no instances. Searches will fail until some are added")
		return nil
	}
	log.Info("Loaded instances")
	return nil
}

// watchInstances reloads the instances file on change until ctx ends.
func watchInstances(ctx context.Context, cfg config.InstancesConfig, registry *instances.Registry, logger *logrus.Logger) {
	if !cfg.WatchFile || cfg.File == "" {
		return
	}
	go func() {
		if err := registry.Watch(ctx, cfg.File); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("Instances watcher stopped")
		}
	}()
}

func instancesCommand() *cli.Command {
	return &cli.Command{
		Name:  "instances",
		Usage: "Print the resolved instance list as JSON",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			list := a.registry.List()
			urls := make([]string, 0, len(list))
			for _, inst := range list {
				urls = append(urls, inst.BaseURL)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"instances": urls,
				"count":     len(urls),
			})
		},
	}
}
