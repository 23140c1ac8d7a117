package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"quotegate/internal/client"
	"quotegate/internal/models"
	"quotegate/internal/version"
)

type rootOptions struct {
	url     string
	json    bool
	retries int
	timeout time.Duration
	verbose bool
}

func defaultURL() string {
	if u := os.Getenv("QUOTEGATE_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "quotectl",
		Short: "Query a quotegate server",
		Long: `quotectl fetches quotes through a quotegate server.

Requests refused with 429 are retried after the advertised Retry-After,
up to --retries times.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.url, "url", defaultURL(), "quotegate base URL (env QUOTEGATE_URL)")
	flags.BoolVar(&opts.json, "json", false, "print raw JSON instead of a table")
	flags.IntVar(&opts.retries, "retries", client.DefaultRetries, "retries after a 429 response")
	flags.DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "per-request timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "report retries on stderr")

	root.AddCommand(
		newGetCmd(opts),
		newRandomCmd(opts),
		newListCmd(opts),
		newHealthCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *rootOptions) client(cmd *cobra.Command) (*client.Client, error) {
	clientOpts := []client.Option{
		client.WithRetries(o.retries),
		client.WithUserAgent(version.UserAgent("quotectl")),
	}
	if o.timeout > 0 {
		clientOpts = append(clientOpts, client.WithHTTPClient(newHTTPClient(o.timeout)))
	}
	if o.verbose {
		stderr := cmd.ErrOrStderr()
		clientOpts = append(clientOpts, client.WithNotify(func(err error, wait time.Duration) {
			fmt.Fprintf(stderr, "retrying in %s: %v\n", wait.Round(time.Millisecond), err)
		}))
	}
	return client.New(o.url, clientOpts...)
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one quote by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("quote id must be a positive integer, got %q", args[0])
			}
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			q, err := c.GetQuote(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printQuotes(cmd.OutOrStdout(), opts.json, q, []models.Quote{q})
		},
	}
}

func newRandomCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "random",
		Short: "Fetch a random quote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			q, err := c.RandomQuote(cmd.Context())
			if err != nil {
				return err
			}
			return printQuotes(cmd.OutOrStdout(), opts.json, q, []models.Quote{q})
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var skip, limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List one page of quotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if skip < 0 {
				return fmt.Errorf("--skip cannot be negative")
			}
			if limit <= 0 || limit > models.MaxPageLimit {
				return fmt.Errorf("--limit must be between 1 and %d", models.MaxPageLimit)
			}
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			page, err := c.ListQuotes(cmd.Context(), skip, limit)
			if err != nil {
				return err
			}
			return printPage(cmd.OutOrStdout(), opts.json, page)
		},
	}

	cmd.Flags().IntVar(&skip, "skip", 0, "number of quotes to skip")
	cmd.Flags().IntVar(&limit, "limit", models.DefaultPageLimit, "page size")
	return cmd
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client(cmd)
			if err != nil {
				return err
			}
			h, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			return printHealth(cmd.OutOrStdout(), opts.json, h)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo().String())
		},
	}
}
