package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/defi-agent/internal/cache"
	"github.com/ggonzalez94/defi-agent/internal/config"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/out"
	"github.com/ggonzalez94/defi-agent/internal/task"
	"github.com/ggonzalez94/defi-agent/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	cache       *cache.Store
	tasks       *task.Store
	lastCommand string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	state.closeStores()
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "LLM-driven DeFi transaction agent",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.lastCommand = trimRootPath(cmd.CommandPath())
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON envelopes")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text (default)")
	cmd.PersistentFlags().StringVar(&s.flags.Endpoint, "endpoint", "", "Capability server MCP endpoint")
	cmd.PersistentFlags().StringVar(&s.flags.Model, "model", "", "Model name override")
	cmd.PersistentFlags().StringVar(&s.flags.Chain, "chain", "", "Default chain for token resolution")
	cmd.PersistentFlags().StringArrayVar(&s.flags.RPC, "rpc", nil, "RPC override as chain=url (repeatable)")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Capability call timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per capability call")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the token inventory cache")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")

	cmd.AddCommand(s.newChatCommand())
	cmd.AddCommand(s.newExecuteCommand())
	cmd.AddCommand(s.newTasksCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) taskStore() (*task.Store, error) {
	if s.tasks != nil {
		return s.tasks, nil
	}
	store, err := task.OpenStore(s.settings.TaskStorePath, s.settings.TaskLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open task store", err)
	}
	s.tasks = store
	return store, nil
}

func (s *runtimeState) cacheStore() (*cache.Store, error) {
	if s.cache != nil {
		return s.cache, nil
	}
	store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open cache", err)
	}
	s.cache = store
	return store, nil
}

func (s *runtimeState) closeStores() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.tasks != nil {
		_ = s.tasks.Close()
	}
}

func (s *runtimeState) emitSuccess(commandPath string, data any) error {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings.OutputMode)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}

	mode := s.settings.OutputMode
	if mode == "" {
		mode = "plain"
	}
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Error: &model.ErrorBody{
			Code:    clierr.ExitCode(err),
			Type:    errorType(clierr.CodeOf(err)),
			Message: message,
		},
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
		},
	}
	_ = out.Render(s.runner.stderr, env, mode)
}

func errorType(code clierr.Code) string {
	switch code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeTokenNotFound:
		return "token_not_found"
	case clierr.CodeInsufficientBalance:
		return "insufficient_balance"
	case clierr.CodeInvalidSchema:
		return "invalid_schema"
	case clierr.CodeTxReverted:
		return "tx_reverted"
	case clierr.CodeUnavailable:
		return "unavailable"
	case clierr.CodeCapability:
		return "capability_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeSigner:
		return "signer_error"
	case clierr.CodeTimeout:
		return "timeout"
	default:
		return "internal_error"
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
