package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gramport/internal/client"
)

type globalOptions struct {
	server string
	apiKey string
	token  string
	json   bool
}

func (o *globalOptions) client() *client.Client {
	var opts []client.Option
	if o.apiKey != "" {
		opts = append(opts, client.WithAPIKey(o.apiKey))
	} else if o.token != "" {
		opts = append(opts, client.WithBearerToken(o.token))
	}
	return client.New(o.server, opts...)
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "gramport",
		Short:         "Upload and import Instagram export archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("GRAMPORT_SERVER", "http://localhost:8080"), "Server base URL")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv("GRAMPORT_API_KEY"), "API key for ApiKey auth")
	flags.StringVar(&opts.token, "token", os.Getenv("GRAMPORT_TOKEN"), "Bearer token for JWT auth")
	flags.BoolVar(&opts.json, "json", false, "Print machine-readable JSON")

	rootCmd.AddCommand(newUploadCommand(opts))
	rootCmd.AddCommand(newConfigCommand(opts))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
