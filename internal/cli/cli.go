// Package cli implements the envoy operator commands for driving runs
// without the HTTP server.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JaimeStill/envoy/internal/runs"
	"github.com/JaimeStill/envoy/internal/workflow"
)

// Operator is the subset of the workflow engine the commands drive.
type Operator interface {
	Start(ctx context.Context, profile workflow.Profile) (workflow.Summary, error)
	Get(ctx context.Context, id uuid.UUID) (*workflow.State, error)
	ResolveGate(ctx context.Context, token string, decision workflow.GateDecision, feedback string) (workflow.Summary, error)
	Resume(ctx context.Context, id uuid.UUID) (workflow.Summary, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Sweep(ctx context.Context) (int, error)
}

// PolicyReader exposes the persisted threshold policy.
type PolicyReader interface {
	Policy(ctx context.Context) (workflow.ThresholdPolicy, error)
	History(ctx context.Context, limit int) ([]runs.HistoryEntry, error)
}

// Backend is what a command needs to do its work. Close releases it.
type Backend struct {
	Engine   Operator
	Policies PolicyReader
	Close    func() error
}

// Opener builds a Backend for a single command invocation.
type Opener func(ctx context.Context) (*Backend, error)

// NewRootCmd builds the envoy command tree over open.
func NewRootCmd(open Opener) *cobra.Command {
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "envoy",
		Short:         "Operate envoy workflow runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "per-command deadline")

	with := func(cmd *cobra.Command, fn func(ctx context.Context, b *Backend) error) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		b, err := open(ctx)
		if err != nil {
			return err
		}
		if b.Close != nil {
			defer b.Close()
		}
		return fn(ctx, b)
	}

	root.AddCommand(
		runCmd(with),
		statusCmd(with),
		resolveCmd(with),
		resumeCmd(with),
		cancelCmd(with),
		sweepCmd(with),
		policyCmd(with),
	)
	return root
}

type withFunc func(cmd *cobra.Command, fn func(ctx context.Context, b *Backend) error) error

func runCmd(with withFunc) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a run from a profile JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := readProfile(cmd, path)
			if err != nil {
				return err
			}
			return with(cmd, func(ctx context.Context, b *Backend) error {
				sum, err := b.Engine.Start(ctx, profile)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
	cmd.Flags().StringVarP(&path, "profile", "p", "-", "profile file, - for stdin")
	return cmd
}

func statusCmd(with withFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status RUN_ID",
		Short: "Print the state of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}
			return with(cmd, func(ctx context.Context, b *Backend) error {
				s, err := b.Engine.Get(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			})
		},
	}
}

func resolveCmd(with withFunc) *cobra.Command {
	var decision, feedback string

	cmd := &cobra.Command{
		Use:   "resolve TOKEN",
		Short: "Approve or reject a pending gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := workflow.ParseGateDecision(decision)
			if err != nil {
				return err
			}
			return with(cmd, func(ctx context.Context, b *Backend) error {
				sum, err := b.Engine.ResolveGate(ctx, args[0], d, feedback)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
	cmd.Flags().StringVarP(&decision, "decision", "d", "", "approve or reject")
	cmd.Flags().StringVarP(&feedback, "feedback", "f", "", "reviewer feedback")
	cmd.MarkFlagRequired("decision")
	return cmd
}

func resumeCmd(with withFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "resume RUN_ID",
		Short: "Continue a suspended or interrupted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}
			return with(cmd, func(ctx context.Context, b *Backend) error {
				sum, err := b.Engine.Resume(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
}

func cancelCmd(with withFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}
			return with(cmd, func(ctx context.Context, b *Backend) error {
				if err := b.Engine.Cancel(ctx, id); err != nil {
					return err
				}
				cmd.Printf("run %s cancelled\n", id)
				return nil
			})
		},
	}
}

func sweepCmd(with withFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue gates once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return with(cmd, func(ctx context.Context, b *Backend) error {
				n, err := b.Engine.Sweep(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("expired %d gates\n", n)
				return nil
			})
		},
	}
}

func policyCmd(with withFunc) *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show the threshold policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if history < 0 {
				return fmt.Errorf("history must be >= 0")
			}
			return with(cmd, func(ctx context.Context, b *Backend) error {
				p, err := b.Policies.Policy(ctx)
				if err != nil {
					return err
				}
				out := struct {
					Policy  workflow.ThresholdPolicy `json:"policy"`
					History []runs.HistoryEntry      `json:"history,omitempty"`
				}{Policy: p}

				if history > 0 {
					if out.History, err = b.Policies.History(ctx, history); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "include the last N threshold changes")
	return cmd
}

func readProfile(cmd *cobra.Command, path string) (workflow.Profile, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return workflow.Profile{}, fmt.Errorf("open profile: %w", err)
		}
		defer f.Close()
		r = f
	}

	var p workflow.Profile
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return workflow.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	if p.UserID == "" {
		return workflow.Profile{}, runs.ErrMissingUser
	}
	return p, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
