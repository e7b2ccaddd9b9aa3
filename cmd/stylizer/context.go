package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"stylizer/internal/apiclient"
	"stylizer/internal/config"
	"stylizer/internal/jobaccess"
	"stylizer/internal/jobstore"
)

const dialTimeout = 2 * time.Second

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) apiAddress() string {
	if c.apiFlag != nil {
		if flag := strings.TrimSpace(*c.apiFlag); flag != "" {
			return flag
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Paths.APIBind
}

// client builds an API client without checking that a daemon answers.
func (c *commandContext) client() (*apiclient.Client, error) {
	client, err := apiclient.New(c.apiAddress())
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return client, nil
}

// dialClient returns a client only when a daemon answers a status request.
func (c *commandContext) dialClient() (*apiclient.Client, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := client.Status(ctx); err != nil {
		return nil, daemonError(err, client.BaseURL())
	}
	return client, nil
}

func (c *commandContext) withJobs(fn func(jobaccess.Access) error) error {
	session, err := jobaccess.OpenWithFallback(c.dialClient, func() (*jobstore.Store, error) {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		return jobstore.Open(cfg)
	})
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session.Access)
}

// daemonError replaces transport failures with a hint to start the daemon.
func daemonError(err error, base string) error {
	if apiclient.IsAPIUnavailable(err) {
		return fmt.Errorf("connect to daemon: nothing is listening at %s; start it with `stylizer serve`", base)
	}
	return err
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
