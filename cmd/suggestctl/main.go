// Package main provides suggestctl, a command-line client for suggestd.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/thebtf/suggestd/pkg/client"
	"github.com/thebtf/suggestd/pkg/models"
)

var (
	baseURL string
	userID  string
	timeout time.Duration
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "suggestctl",
		Short:        "Inspect and drive suggestd",
		SilenceUsage: true,
	}

	defaultURL := os.Getenv("SUGGESTD_URL")
	if defaultURL == "" {
		defaultURL = client.DefaultBaseURL
	}
	root.PersistentFlags().StringVar(&baseURL, "url", defaultURL, "suggestd base URL")
	root.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("SUGGESTD_USER"), "user id")
	root.PersistentFlags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "request timeout")

	root.AddCommand(listCmd())
	root.AddCommand(planCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(acceptCmd())
	root.AddCommand(dismissCmd())
	root.AddCommand(statusCmd("archive", models.StatusArchived))
	root.AddCommand(statusCmd("restore", models.StatusActive))
	root.AddCommand(healthCmd())
	return root
}

func newClient(cmd *cobra.Command) (*client.Client, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return client.New(baseURL, userID), ctx, cancel
}

func surfaceArg(s string) (models.Surface, error) {
	return models.ParseSurface(s)
}

func listCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "list [surface]",
		Short: "Show the suggestion list for insight, goal or habit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, err := surfaceArg(args[0])
			if err != nil {
				return err
			}
			c, ctx, cancel := newClient(cmd)
			defer cancel()

			items, err := c.Suggested(ctx, surface, mode)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("Nothing to suggest right now.")
				return nil
			}
			for _, it := range items {
				printItem(it)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "new (default) or reinforcements")
	return cmd
}

func printItem(it models.SuggestedItem) {
	switch it.Kind {
	case models.KindExisting:
		fmt.Printf("existing   %.3f  %s  %s\n", it.Similarity, short(it.ExistingID), it.ExistingTitle)
	case models.KindReinforce:
		fmt.Printf("reinforce  %.3f  %s  %s  (like %q)\n", it.Similarity, short(it.ID), it.Title, it.RelatedTitle)
	default:
		fmt.Printf("new        %.3f  %s  %s\n", it.Similarity, short(it.ID), it.Title)
	}
}

func planCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "plan [surface]",
		Short: "Show what a request would do, without side effects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, err := surfaceArg(args[0])
			if err != nil {
				return err
			}
			c, ctx, cancel := newClient(cmd)
			defer cancel()

			plan, err := c.Plan(ctx, surface, mode)
			if err != nil {
				return err
			}
			for _, p := range plan.Plan {
				reason := p.Reason
				if reason == "" {
					reason = "-"
				}
				fmt.Printf("%-18s %-14s %-9s %.3f  %s  %s\n", p.Disposition, reason, p.Relation, p.Score, short(p.CandidateID), p.Title)
			}
			fmt.Printf("items=%d fallback=%t cooldown_bypassed=%t\n", len(plan.Items), plan.Fallback, plan.CooldownBypassed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "new (default) or reinforcements")
	return cmd
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [surface] [file.json]",
		Short: "Store generated candidates from a JSON array (or - for stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, err := surfaceArg(args[0])
			if err != nil {
				return err
			}

			var raw []byte
			if args[1] == "-" {
				raw, err = readAll(os.Stdin)
			} else {
				raw, err = os.ReadFile(args[1])
			}
			if err != nil {
				return fmt.Errorf("read candidates: %w", err)
			}

			var candidates []client.NewCandidate
			if err := json.Unmarshal(raw, &candidates); err != nil {
				return fmt.Errorf("parse candidates: %w", err)
			}

			c, ctx, cancel := newClient(cmd)
			defer cancel()

			created, err := c.Ingest(ctx, surface, candidates)
			if err != nil {
				return err
			}
			for _, cand := range created {
				fmt.Printf("Added %s  %s\n", short(cand.ID), cand.Title)
			}
			return nil
		},
	}
	return cmd
}

func acceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept [surface] [suggestion-id]",
		Short: "Accept a pending suggestion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, err := surfaceArg(args[0])
			if err != nil {
				return err
			}
			c, ctx, cancel := newClient(cmd)
			defer cancel()

			item, err := c.Accept(ctx, surface, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Created %s %s  %s\n", surface, short(item.ID), item.Title)
			return nil
		},
	}
}

func dismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss [surface] [suggestion-id]",
		Short: "Dismiss a pending suggestion",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, err := surfaceArg(args[0])
			if err != nil {
				return err
			}
			c, ctx, cancel := newClient(cmd)
			defer cancel()
			return c.Dismiss(ctx, surface, args[1])
		},
	}
}

func statusCmd(name string, status models.ItemStatus) *cobra.Command {
	return &cobra.Command{
		Use:   name + " [surface] [item-id]",
		Short: fmt.Sprintf("Mark an item %s", status),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			surface, err := surfaceArg(args[0])
			if err != nil {
				return err
			}
			c, ctx, cancel := newClient(cmd)
			defer cancel()
			return c.SetStatus(ctx, surface, args[1], status)
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Wait for suggestd to become ready and print its version",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ctx, cancel := newClient(cmd)
			defer cancel()

			if err := c.WaitReady(ctx); err != nil {
				return err
			}
			v, err := c.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("suggestd %s ready at %s\n", v, baseURL)
			return nil
		},
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 1<<20))
}
