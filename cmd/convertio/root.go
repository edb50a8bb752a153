package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"convertio/internal/config"
)

const skipConfigLoad = "skipConfigLoad"

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "convertio",
		Short:         "Convert model files with a battery-aware job queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfigLoad] == "true" {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file (json, yaml or toml)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newConvertCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newPreviewCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	return rootCmd
}

// commandContext loads the config once per invocation.
type commandContext struct {
	configFlag *string

	once      sync.Once
	path      string
	config    *config.Config
	configErr error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(func() {
		c.path = resolveConfigPath(strings.TrimSpace(*c.configFlag))
		if c.path == "" {
			c.config = config.Default()
			return
		}
		c.config, c.configErr = config.NewManager(c.path, nopLogger()).Load()
	})
	return c.config, c.configErr
}

// configPath is empty when running on built-in defaults.
func (c *commandContext) configPath() string {
	_, _ = c.ensureConfig()
	return c.path
}

// defaultConfigPath is where init writes and where lookups start when no flag is given.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "convertio", "config.yaml")
}

// resolveConfigPath returns flag when set, else the first existing default candidate.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return config.ExpandPath(flag)
	}
	if env := strings.TrimSpace(os.Getenv("CONVERTIO_CONFIG")); env != "" {
		return config.ExpandPath(env)
	}
	def := defaultConfigPath()
	if def == "" {
		return ""
	}
	base := strings.TrimSuffix(def, filepath.Ext(def))
	for _, ext := range []string{".yaml", ".yml", ".toml", ".json"} {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}
