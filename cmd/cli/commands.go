package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/queue"
	"github.com/hamed0406/watchdog/internal/repo"
)

type storeOpener func(ctx context.Context, dsn string) (repo.Store, error)

type app struct {
	open   storeOpener
	dsn    string
	api    string
	apiKey string
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func newRootCmd(open storeOpener) *cobra.Command {
	a := &app{open: open}
	root := &cobra.Command{
		Use:          "watchdogctl",
		Short:        "Manage watchdog owners, targets and outcomes",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.dsn, "db", envOr("DATABASE_URL", ""), "store DSN (postgres://..., sqlite://path)")
	root.PersistentFlags().StringVar(&a.api, "api", envOr("API_BASE", "http://localhost:8080"), "worker ops API base URL")
	root.PersistentFlags().StringVar(&a.apiKey, "api-key", envOr("API_KEY", ""), "key for the ops API")

	root.AddCommand(a.ownerCmd(), a.targetCmd(), a.outcomesCmd(), a.queueCmd())
	return root
}

// withStore opens the store for one command. An in-memory store would be
// gone by the time the worker looks, so a DSN is required.
func (a *app) withStore(ctx context.Context, fn func(repo.Store) error) (err error) {
	if a.dsn == "" {
		return errors.New("no store configured: pass --db or set DATABASE_URL")
	}
	s, err := a.open(ctx, a.dsn)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

func (a *app) ownerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "owner", Short: "Manage owners"}

	var chatID int64
	add := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Register an owner and optionally link a Telegram chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := &domain.Owner{Username: args[0]}
			if cmd.Flags().Changed("chat-id") {
				o.TelegramChatID = &chatID
			}
			return a.withStore(cmd.Context(), func(s repo.Store) error {
				if err := s.AddOwner(cmd.Context(), o); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), o.ID)
				return nil
			})
		},
	}
	add.Flags().Int64Var(&chatID, "chat-id", 0, "Telegram chat that receives alerts")
	cmd.AddCommand(add)
	return cmd
}

func (a *app) targetCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "target", Short: "Manage monitored targets"}

	var (
		owner, name, method, body string
		interval                  int
		headers                   []string
	)
	add := &cobra.Command{
		Use:   "add URL",
		Short: "Add a target; the first probe runs at the next minute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := domain.NewTarget(domain.OwnerID(owner), name, args[0], method, interval, time.Now())
			if err != nil {
				return err
			}
			t.Body = body
			if t.Headers, err = parseHeaders(headers); err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s repo.Store) error {
				if err := s.Add(cmd.Context(), t); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("owner %q does not exist", owner)
					}
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&owner, "owner", "", "owner ID (required)")
	add.Flags().StringVar(&name, "name", "", "display name used in alerts")
	add.Flags().StringVar(&method, "method", "GET", "HTTP method")
	add.Flags().IntVar(&interval, "interval", domain.MinInterval, "seconds between probes, whole minutes")
	add.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header as Key: Value (repeatable)")
	add.Flags().StringVar(&body, "body", "", "request body")
	_ = add.MarkFlagRequired("owner")

	list := &cobra.Command{
		Use:   "list",
		Short: "List targets with their schedule and live status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s repo.Store) error {
				ts, err := s.List(cmd.Context())
				if err != nil {
					return err
				}
				printTargets(cmd.OutOrStdout(), ts, time.Now())
				return nil
			})
		},
	}

	cmd.AddCommand(add, list, a.setActiveCmd("pause", false), a.setActiveCmd("resume", true))
	return cmd
}

func (a *app) setActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: strings.ToUpper(use[:1]) + use[1:] + " probing of a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s repo.Store) error {
				if err := s.SetActive(cmd.Context(), domain.TargetID(args[0]), active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: active=%t\n", args[0], active)
				return nil
			})
		},
	}
}

func (a *app) outcomesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "outcomes TARGET_ID",
		Short: "Show the most recent probe outcomes of a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s repo.Store) error {
				rows, err := s.ListOutcomes(cmd.Context(), domain.TargetID(args[0]), limit)
				if err != nil {
					return err
				}
				printOutcomes(cmd.OutOrStdout(), rows, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "rows to show")
	return cmd
}

func (a *app) queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show the running worker's queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.fetchQueue(cmd.Context())
			if err != nil {
				return err
			}
			printQueue(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func (a *app) fetchQueue(ctx context.Context) (*queue.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(a.api, "/")+"/api/queue", nil)
	if err != nil {
		return nil, err
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contacting API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status: %s", resp.Status)
	}
	var snap queue.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode queue snapshot: %w", err)
	}
	return &snap, nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("bad header %q, want \"Key: Value\"", h)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func printTargets(w io.Writer, ts []domain.Target, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMETHOD\tURL\tEVERY\tACTIVE\tSTATUS\tNEXT")
	for _, t := range ts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			t.ID, orDash(t.Name), t.Method, t.URL,
			time.Duration(t.Interval)*time.Second, t.Active, t.LastCheckStatus,
			humanize.RelTime(t.NextDueAt, now, "ago", "from now"),
		)
	}
	tw.Flush()
}

func printOutcomes(w io.Writer, rows []domain.Outcome, now time.Time) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no outcomes recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tOK\tSTATUS\tDURATION\tERROR")
	for _, o := range rows {
		code := "-"
		if o.StatusCode != nil {
			code = fmt.Sprint(*o.StatusCode)
		}
		errText := "-"
		if o.ErrorMessage != nil {
			errText = *o.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s ms\t%s\n",
			humanize.RelTime(o.StartTime, now, "ago", "from now"),
			o.Success, code, humanize.Comma(o.DurationMS), errText,
		)
	}
	tw.Flush()
}

func printQueue(w io.Writer, s *queue.Snapshot) {
	fmt.Fprintf(w, "running=%t workers=%d in_flight=%d queued=%d/%d\n",
		s.Running, s.Workers, s.InFlight, s.QueueLen, s.QueueCap)
	fmt.Fprintf(w, "completed=%s failed=%s retried=%s\n",
		humanize.Comma(int64(s.Completed)), humanize.Comma(int64(s.Failed)), humanize.Comma(int64(s.Retried)))
	for _, h := range s.History {
		status := "ok"
		if h.Error != "" {
			status = h.Error
		}
		fmt.Fprintf(w, "  %s %s attempts=%d took=%s %s\n", h.Name, h.ID, h.Attempts, h.Duration, status)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
