package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"futurebuild/internal/config"
	"futurebuild/internal/services"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	// configFound is false when defaults were used because no file existed.
	configFound bool
	configErr   error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

// ensureConfig loads the configuration once. Directories are created by the
// commands that write to them, so read-only commands leave no trace.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, found, err := config.Load(path)
		if err != nil {
			c.configErr = services.Wrap(services.ErrConfiguration, "", "load config", "", err)
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configFound = found
	})
	return c.config, c.configErr
}

func (c *commandContext) logLevel() string {
	if c.logLevelFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.logLevelFlag)
}

// applyWorkingDir overrides paths.work_dir from a flag and revalidates.
func applyWorkingDir(cfg *config.Config, flag string) error {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return nil
	}
	expanded, err := config.ExpandPath(flag)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "", "resolve working dir", "", err)
	}
	cfg.Paths.WorkDir = expanded
	if err := cfg.Validate(); err != nil {
		return services.Wrap(services.ErrConfiguration, "", "validate", fmt.Sprintf("--working-dir %s", flag), err)
	}
	return nil
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
