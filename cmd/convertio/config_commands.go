package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	yaml "go.yaml.in/yaml/v3"

	"convertio/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigCheckCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a configuration file with default values",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := config.ExpandPath(targetPath)
			if target == "" {
				target = defaultConfigPath()
			}
			if target == "" {
				return fmt.Errorf("no config path given and no user config directory")
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				}
			}
			data, err := encodeConfig(config.Default(), formatOf(target))
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination (extension selects yaml, toml or json)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func newConfigCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "check FILE",
		Short:       "Parse and validate a configuration file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfigLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ExpandPath(args[0])
			if _, err := config.NewManager(path, nopLogger()).Load(); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := encodeConfig(cfg, format)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if p := ctx.configPath(); p != "" {
				fmt.Fprintf(out, "# %s\n", p)
			} else {
				fmt.Fprintln(out, "# built-in defaults")
			}
			_, err = out.Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml, toml or json")
	return cmd
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// encodeConfig goes through JSON so every format uses the same key names.
func encodeConfig(cfg *config.Config, format string) ([]byte, error) {
	jb, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if format == "json" {
		var buf strings.Builder
		var v any
		_ = json.Unmarshal(jb, &v)
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return []byte(buf.String()), nil
	}
	var m map[string]any
	if err := json.Unmarshal(jb, &m); err != nil {
		return nil, err
	}
	switch format {
	case "toml":
		return toml.Marshal(m)
	case "yaml", "":
		return yaml.Marshal(m)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
