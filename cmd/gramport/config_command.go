package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newConfigCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the server's upload limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.client().Config(cmd.Context())
			if err != nil {
				return err
			}
			if opts.json {
				return writeJSON(cmd, cfg)
			}

			chunks := "-"
			if cfg.ChunkSize > 0 {
				chunks = fmt.Sprint((cfg.MaxUploadSize + cfg.ChunkSize - 1) / cfg.ChunkSize)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Setting", "Value"},
				[][]string{
					{"Server", opts.server},
					{"Chunk size", humanize.IBytes(uint64(cfg.ChunkSize))},
					{"Max upload size", humanize.IBytes(uint64(cfg.MaxUploadSize))},
					{"Max chunks", chunks},
				},
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}
