package app

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/execution"
	"github.com/ggonzalez94/defi-agent/internal/execution/signer"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/position"
	"github.com/ggonzalez94/defi-agent/internal/tools"
)

// ArtifactTxReceipts holds the per-step execution outcomes of a plan.
const ArtifactTxReceipts = "txReceipts"

func (s *runtimeState) newExecuteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <task-id>",
		Short: "Sign and submit the confirmed plan of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := s.taskStore()
			if err != nil {
				return err
			}
			t, err := store.Get(args[0])
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load task", err)
			}
			if t.Status.State != model.TaskStateInputRequired {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("task %s is %s, nothing to execute", t.ID, t.Status.State))
			}

			txSigner, err := signer.FromEnv()
			if err != nil {
				return clierr.Wrap(clierr.CodeSigner, "load signer", err)
			}
			exec := execution.NewExecutor(txSigner, execution.Options{
				Preflight:        s.settings.Preflight,
				PollInterval:     s.settings.PollInterval,
				StepTimeout:      s.settings.StepTimeout,
				GasMultiplier:    s.settings.GasMultiplier,
				FeeBufferPercent: s.settings.FeeBufferPercent,
			})
			exec.RPCOverrides = s.settings.RPCOverrides

			var (
				steps   []execution.StepResult
				summary string
				runErr  error
			)
			if a, ok := t.Artifact(tools.ArtifactWithdrawal); ok {
				steps, summary, runErr = s.runWithdrawal(cmd, a, exec)
			} else if a, ok := t.Artifact(model.ArtifactTxPlan); ok {
				entries, _, err := tools.DecodePlanArtifact(a)
				if err != nil {
					return err
				}
				steps, runErr = exec.Execute(ctx, entries)
				summary = fmt.Sprintf("Executed %d transaction(s).", len(steps))
			} else {
				return clierr.New(clierr.CodeUsage, fmt.Sprintf("task %s has no executable plan", t.ID))
			}

			if len(steps) > 0 {
				t.AddArtifact(ArtifactTxReceipts, model.DataPart(map[string]any{"steps": steps}))
			}
			if runErr != nil {
				_ = t.SetStatus(model.TaskStateFailed, model.AgentMessage(runErr.Error()))
			} else {
				_ = t.SetStatus(model.TaskStateCompleted, model.AgentMessage(summary))
			}
			if err := store.Save(t); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "save task", err)
			}
			if runErr != nil {
				return runErr
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), t)
		},
	}
	return cmd
}

func (s *runtimeState) runWithdrawal(cmd *cobra.Command, a model.Artifact, exec *execution.Executor) ([]execution.StepResult, string, error) {
	chainID, manager, tokenID, recipient, err := tools.DecodeWithdrawalArtifact(a)
	if err != nil {
		return nil, "", err
	}
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, "", clierr.New(clierr.CodeInvalidSchema, fmt.Sprintf("invalid position token id: %s", tokenID))
	}

	reader := position.NewChainReader()
	reader.RPCOverrides = s.settings.RPCOverrides
	withdrawer := position.NewWithdrawer(reader, exec)

	report, err := withdrawer.Withdraw(cmd.Context(), position.WithdrawRequest{
		ChainID:   chainID,
		Manager:   manager,
		TokenID:   id,
		Recipient: recipient,
	})
	if report == nil {
		return nil, "", err
	}
	return report.Steps, withdrawalSummary(report), err
}

func withdrawalSummary(report *position.Report) string {
	if report.AlreadyEmpty {
		return "The position is already empty, nothing to withdraw."
	}
	parts := []string{}
	if report.Decreased {
		parts = append(parts, "removed liquidity")
	}
	if report.Collected {
		parts = append(parts, "collected owed tokens")
	}
	if report.Burned {
		parts = append(parts, "burned the position NFT")
	} else {
		parts = append(parts, "kept the position NFT (tokens still owed)")
	}
	return "Withdrawal complete: " + strings.Join(parts, ", ") + "."
}

func (s *runtimeState) newTasksCommand() *cobra.Command {
	root := &cobra.Command{Use: "tasks", Short: "Inspect stored tasks"}

	var stateFilter string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.taskStore()
			if err != nil {
				return err
			}
			tasks, err := store.List(model.TaskState(stateFilter), limit)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list tasks", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), tasks)
		},
	}
	list.Flags().StringVar(&stateFilter, "state", "", "Filter by task state (e.g. input-required)")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum tasks to return")
	root.AddCommand(list)

	show := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task with its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.taskStore()
			if err != nil {
				return err
			}
			t, err := store.Get(args[0])
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load task", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), t)
		},
	}
	root.AddCommand(show)

	return root
}
