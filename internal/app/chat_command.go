package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/ggonzalez94/defi-agent/internal/agent"
	"github.com/ggonzalez94/defi-agent/internal/cache"
	"github.com/ggonzalez94/defi-agent/internal/capability"
	"github.com/ggonzalez94/defi-agent/internal/config"
	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/execution"
	"github.com/ggonzalez94/defi-agent/internal/execution/signer"
	"github.com/ggonzalez94/defi-agent/internal/model"
	"github.com/ggonzalez94/defi-agent/internal/plan"
	"github.com/ggonzalez94/defi-agent/internal/token"
	"github.com/ggonzalez94/defi-agent/internal/tools"
)

func (s *runtimeState) newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <instruction>",
		Short: "Process a natural-language DeFi instruction",
		Long: "Runs the instruction through the model and the capability server. " +
			"Transactions are never sent from here: a built plan leaves the task " +
			"in input-required, and the execute command submits it.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			instruction := strings.Join(args, " ")

			txSigner, err := signer.FromEnv()
			if err != nil {
				return clierr.Wrap(clierr.CodeSigner, "load signer", err)
			}
			wallet := txSigner.Address().Hex()

			capClient := capability.New(capability.Options{
				Endpoint: s.settings.CapabilityEndpoint,
				Timeout:  s.settings.CapabilityTimeout,
				Retries:  s.settings.CapabilityRetries,
			})
			if err := capClient.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = capClient.Close() }()

			tokens, err := s.tokenMap(ctx, capClient)
			if err != nil {
				return err
			}

			reader := execution.NewReader()
			reader.RPCOverrides = s.settings.RPCOverrides

			registry := tools.DefaultRegistry(tools.Deps{
				Capabilities:   capClient,
				Tokens:         tokens,
				Builder:        &plan.Builder{Allowances: reader},
				Wallet:         wallet,
				DefaultChainID: s.settings.DefaultChainID,
			})

			llm, err := newChatModel(s.settings)
			if err != nil {
				return err
			}

			loop := agent.NewLoop(llm, registry,
				agent.LoggingHook{},
				agent.BalanceHook{
					Tokens:         tokens,
					Balances:       reader,
					Wallet:         wallet,
					DefaultChainID: s.settings.DefaultChainID,
				})
			loop.MaxSteps = s.settings.MaxSteps

			t := model.NewTask("")
			runErr := loop.Run(ctx, t, instruction)

			store, err := s.taskStore()
			if err != nil {
				return err
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

// tokenMap returns the capability-server token inventory, served from the
// local cache when fresh.
func (s *runtimeState) tokenMap(ctx context.Context, capClient *capability.Client) (token.Map, error) {
	if s.settings.CacheEnabled {
		if store, err := s.cacheStore(); err == nil {
			var cached []token.Info
			if hit, err := store.GetJSON(cache.KeyTokenMap, &cached); err == nil && hit {
				m := token.Map{}
				for _, info := range cached {
					m.Add(info)
				}
				return m, nil
			}
		}
	}

	caps, err := capClient.Capabilities(ctx)
	if err != nil {
		return nil, err
	}
	if s.settings.CacheEnabled {
		if store, err := s.cacheStore(); err == nil {
			_ = store.SetJSON(cache.KeyTokenMap, caps.Tokens, s.settings.CacheTTL)
		}
	}
	return caps.TokenMap(), nil
}

func newChatModel(settings config.Settings) (llms.Model, error) {
	if settings.ModelProvider != "openai" {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported model provider: %s", settings.ModelProvider))
	}
	if settings.ModelAPIKey == "" {
		return nil, clierr.New(clierr.CodeUsage, "model api key is not set (DEFI_AGENT_MODEL_API_KEY or OPENAI_API_KEY)")
	}
	opts := []openai.Option{
		openai.WithToken(settings.ModelAPIKey),
		openai.WithModel(settings.ModelName),
	}
	if settings.ModelBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(settings.ModelBaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "initialize model client", err)
	}
	return llm, nil
}
