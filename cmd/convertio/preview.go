package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"convertio/internal/config"
	"convertio/internal/preview"
)

func newPreviewCommand(ctx *commandContext) *cobra.Command {
	var (
		tierFlag string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Render a preview image of a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tier, err := preview.ParseTier(tierFlag)
			if err != nil {
				return err
			}
			pc := preview.Config{}
			if cfg.Preview != nil {
				pc = preview.Config{
					BaseURL:    cfg.Preview.BaseURL,
					RatePerSec: cfg.Preview.RatePerSec,
					Timeout:    config.Duration(cfg.Preview.Timeout, 10*time.Second),
				}
			}
			img, err := preview.NewHTTP(pc, nopLogger()).Render(cmd.Context(), args[0], tier)
			if err != nil {
				return err
			}

			target := strings.TrimSpace(output)
			if target == "" {
				base := filepath.Base(args[0])
				ext := mimetype.Lookup(img.ContentType)
				suffix := ".img"
				if ext != nil {
					suffix = ext.Extension()
				}
				target = strings.TrimSuffix(base, filepath.Ext(base)) + "." + tier.String() + suffix
			}
			if err := os.WriteFile(target, img.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s preview (%s, %s) to %s\n",
				tier, img.ContentType, humanize.IBytes(uint64(len(img.Data))), target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tierFlag, "tier", "t", "sd", "Resolution tier: low, sd or hd")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to <name>.<tier>.<ext> in the working directory)")
	return cmd
}
