package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"gramport/internal/client"
	"gramport/internal/config"
)

func newUploadCommand(opts *globalOptions) *cobra.Command {
	var chunkSize string

	cmd := &cobra.Command{
		Use:   "upload <export.zip>",
		Short: "Upload an export archive and import its posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := &client.Uploader{Client: opts.client()}
			if chunkSize != "" {
				size, err := config.ParseSize(chunkSize)
				if err != nil {
					return fmt.Errorf("--chunk-size: %w", err)
				}
				u.ChunkSize = size
			}
			if !opts.json && isTerminal(cmd.ErrOrStderr()) {
				u.Progress = progressPrinter(cmd.ErrOrStderr())
			}

			started := time.Now()
			summary, err := u.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if opts.json {
				return writeJSON(cmd, summary)
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Field", "Value"},
				[][]string{
					{"Upload", summary.SessionID},
					{"Size", humanize.IBytes(uint64(summary.Bytes))},
					{"Chunks", strconv.Itoa(summary.Chunks)},
					{"Imported", strconv.Itoa(summary.Stats.Imported)},
					{"Skipped", strconv.Itoa(summary.Stats.Skipped)},
					{"Took", time.Since(started).Round(time.Millisecond).String()},
				},
				[]columnAlignment{alignLeft, alignRight},
			))
			fmt.Fprintln(cmd.OutOrStdout(), summary.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&chunkSize, "chunk-size", "", "Chunk size override, e.g. 512K (never above the server's)")
	return cmd
}

func progressPrinter(w io.Writer) func(client.Event) {
	return func(ev client.Event) {
		switch ev.Kind {
		case client.EventChunk:
			fmt.Fprintf(w, "\r[%3d%%] %s", ev.Progress, ev.Message)
			if ev.Chunk == ev.Chunks {
				fmt.Fprintln(w)
			}
		case client.EventStage:
			fmt.Fprintf(w, "[%3d%%] %s\n", ev.Progress, ev.Message)
		}
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
