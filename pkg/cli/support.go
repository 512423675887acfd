package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/ma12/companion-api/pkg/store"
	"github.com/ma12/companion-api/pkg/support"
)

const remoteTimeout = 15 * time.Second

func NewSupportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "support",
		Short: "Inspect and repair support form notifications",
	}
	cmd.AddCommand(newSupportPendingCommand(), newSupportResendCommand(), newSupportStatsCommand())
	return cmd
}

// withCore loads configuration, opens the components and hands them to fn.
func withCore(cmd *cobra.Command, fn func(*runtimeState, *core) error) error {
	rt, err := getRuntime(cmd)
	if err != nil {
		return err
	}
	cfg, err := rt.LoadConfig()
	if err != nil {
		return err
	}
	c, err := newCore(cmd.Context(), cfg, rt.Logger())
	if err != nil {
		return err
	}
	defer c.close(context.WithoutCancel(cmd.Context()))
	return fn(rt, c)
}

func newSupportPendingCommand() *cobra.Command {
	var (
		format string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List submissions whose notification email has not been sent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(cmd, func(rt *runtimeState, c *core) error {
				subs, err := c.support.Pending(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if outputFormat(format) == formatTable {
					writeSubmissionTable(rt.Writer(), subs)
					return nil
				}
				if subs == nil {
					subs = []store.Submission{}
				}
				return writeObject(rt.Writer(), outputFormat(format), subs)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", string(formatTable), "Output format: table, json or yaml")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of submissions to list")
	return cmd
}

func newSupportResendCommand() *cobra.Command {
	var operator string
	cmd := &cobra.Command{
		Use:   "resend <id>",
		Short: "Deliver the notification email of a pending submission now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid submission id %q", args[0])
			}
			return withCore(cmd, func(rt *runtimeState, c *core) error {
				if err := c.support.Resend(cmd.Context(), id, operator); err != nil {
					if errors.Is(err, support.ErrAlreadySent) {
						_, _ = fmt.Fprintf(rt.Writer(), "submission %d: email already sent\n", id)
						return nil
					}
					return err
				}
				_, err := fmt.Fprintf(rt.Writer(), "submission %d: email sent\n", id)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&operator, "operator", defaultOperator(), "Name recorded in the audit trail")
	return cmd
}

func newSupportStatsCommand() *cobra.Command {
	var (
		format string
		server string
		token  string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show support form counters",
		Long: "Show support form counters from the configured database, or from a running " +
			"server when --server is given.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			var st store.Stats
			if server != "" {
				st, err = fetchRemoteStats(cmd.Context(), server, token)
			} else {
				err = withCore(cmd, func(_ *runtimeState, c *core) error {
					var serr error
					st, serr = c.support.Stats(cmd.Context())
					return serr
				})
			}
			if err != nil {
				return err
			}
			if outputFormat(format) == formatTable {
				writeStatsTable(rt.Writer(), st)
				return nil
			}
			return writeObject(rt.Writer(), outputFormat(format), st)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", string(formatTable), "Output format: table, json or yaml")
	cmd.Flags().StringVar(&server, "server", getEnvString("COMPANION_SERVER", ""), "Base URL of a running server")
	cmd.Flags().StringVar(&token, "token", getEnvString("COMPANION_STATS_TOKEN", ""), "Bearer token for the stats endpoint")
	return cmd
}

type statsEnvelope struct {
	Success bool        `json:"success"`
	Data    store.Stats `json:"data"`
}

func fetchRemoteStats(ctx context.Context, server, token string) (store.Stats, error) {
	client := resty.New().
		SetBaseURL(strings.TrimRight(server, "/")).
		SetTimeout(remoteTimeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}

	var out statsEnvelope
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/support-form/stats")
	if err != nil {
		return store.Stats{}, fmt.Errorf("fetch stats: %w", err)
	}
	if resp.IsError() {
		return store.Stats{}, fmt.Errorf("fetch stats: server returned %s", resp.Status())
	}
	return out.Data, nil
}

func defaultOperator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
