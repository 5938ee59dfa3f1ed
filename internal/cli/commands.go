// Package cli holds the soundcronctl commands
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/soundcron/internal/api/dto"
	"github.com/spf13/cobra"
)

type options struct {
	apiURL  string
	timeout time.Duration
}

func (o *options) client() *Client {
	return NewClient(o.apiURL, o.timeout)
}

func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "soundcronctl",
		Short:         "Manage scheduled sound playback",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.apiURL, "api", "http://localhost:8080", "Base URL of the API service")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	cmd.AddCommand(
		newAddCmd(opts),
		newRemoveCmd(opts),
		newGetCmd(opts),
		newListCmd(opts),
		newStatusCmd(opts),
		newUnassignedCmd(opts),
	)
	return cmd
}

func newAddCmd(opts *options) *cobra.Command {
	var req dto.CreateSoundCronRequest

	cmd := &cobra.Command{
		Use:   "add SERVER_ID NAME",
		Short: "Schedule a sound on a server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[1]
			created, err := opts.client().Create(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SoundCron created: %s:%s\n", created.ServerID, created.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Cron, "cron", "", "Cron expression, 5 or 6 fields")
	cmd.Flags().StringVar(&req.Timezone, "timezone", "", "IANA timezone (default UTC)")
	cmd.Flags().StringVar(&req.Audio, "audio", "", "Audio reference in the asset store")
	cmd.Flags().BoolVar(&req.Mute, "mute", false, "Schedule without playing")
	cmd.Flags().StringSliceVar(&req.ExcludeChannelIDs, "exclude", nil, "Channel IDs to skip")
	cmd.Flags().StringVar(&req.Description, "description", "", "Free-form description")
	_ = cmd.MarkFlagRequired("cron")
	_ = cmd.MarkFlagRequired("audio")
	return cmd
}

func newRemoveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "remove SERVER_ID NAME",
		Aliases: []string{"rm"},
		Short:   "Remove a soundcron",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "SoundCron removed: %s:%s\n", args[0], args[1])
			return nil
		},
	}
}

func newGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get SERVER_ID NAME",
		Short: "Show one soundcron",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client().Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printCron(cmd, *c)
			return nil
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	var (
		serverID string
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List soundcrons",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()

			if serverID != "" {
				crons, err := client.ListServer(cmd.Context(), serverID)
				if err != nil {
					return err
				}
				return printCrons(cmd, crons)
			}

			var all []dto.SoundCronDTO
			cursor := ""
			for {
				page, err := client.ListPage(cmd.Context(), pageSize, cursor)
				if err != nil {
					return err
				}
				all = append(all, page.SoundCrons...)
				if page.NextCursor == "" {
					break
				}
				cursor = page.NextCursor
			}
			return printCrons(cmd, all)
		},
	}

	cmd.Flags().StringVar(&serverID, "server", "", "Only list soundcrons of this server")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Page size used while walking all soundcrons")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status SERVER_ID NAME",
		Short: "Show which worker runs a soundcron",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.client().Status(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !st.Assigned {
				fmt.Fprintf(out, "%s | unassigned\n", st.Key)
				return nil
			}
			lastRun := st.LastRun
			if lastRun == "" {
				lastRun = "never"
			}
			fmt.Fprintf(out, "%s | owner=%s | runs=%d | last_run=%s\n", st.Key, st.Owner, st.RunCount, lastRun)
			return nil
		},
	}
}

func newUnassignedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "unassigned",
		Short: "List job keys waiting for a worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := opts.client().Unassigned(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "No unassigned soundcrons.")
				return nil
			}
			for _, k := range keys {
				fmt.Fprintln(out, k)
			}
			return nil
		},
	}
}

func printCrons(cmd *cobra.Command, crons []dto.SoundCronDTO) error {
	if len(crons) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No soundcrons found.")
		return nil
	}
	for _, c := range crons {
		printCron(cmd, c)
	}
	return nil
}

func printCron(cmd *cobra.Command, c dto.SoundCronDTO) {
	flags := ""
	if c.Mute {
		flags = " | muted"
	}
	if len(c.ExcludeChannelIDs) > 0 {
		flags += " | exclude=" + strings.Join(c.ExcludeChannelIDs, ",")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s:%s | %-20s | %s | %s%s\n",
		c.ServerID, c.Name, c.Cron, c.Timezone, c.Audio, flags)
}

// Execute runs the root command with ctx
func Execute(ctx context.Context, args []string) error {
	root := NewRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
