package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"vidpipe/internal/cleanup"
	"vidpipe/internal/config"
	"vidpipe/internal/dispatch"
	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/pipeline"
	"vidpipe/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the queue database for the duration of fn.
func (c *commandContext) withStore(fn func(*config.Config, *queue.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

// withPipeline builds an in-process event contract over the queue database.
// Workers are not started; the daemon executes the enqueued jobs.
func (c *commandContext) withPipeline(fn func(*pipeline.Pipeline) error) error {
	return c.withStore(func(cfg *config.Config, store *queue.Store) error {
		resolver, err := layout.New(cfg.Paths.MediaRoot)
		if err != nil {
			return err
		}
		logger := logging.NewNop()
		pipe := pipeline.New(
			store,
			dispatch.New(store, nil, logger),
			cleanup.NewCoordinatorFromConfig(cfg, store, resolver, logger),
			pipeline.SourceRoots(resolver, cfg.Paths.SourceRoots),
			logger,
		)
		return fn(pipe)
	})
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
