package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/loom/pkg/api"
	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/events"
	"github.com/go-go-golems/loom/pkg/helpers"
	"github.com/go-go-golems/loom/pkg/sequencer"
	"github.com/go-go-golems/loom/pkg/thinking"
	"github.com/go-go-golems/loom/pkg/tools"
)

type calculatorRequest struct {
	A  float64 `json:"a" jsonschema:"required,description=Left operand"`
	B  float64 `json:"b" jsonschema:"required,description=Right operand"`
	Op string  `json:"op" jsonschema:"required,description=One of add sub mul div,enum=add,enum=sub,enum=mul,enum=div"`
}

func calculator(req calculatorRequest) (float64, error) {
	switch req.Op {
	case "add":
		return req.A + req.B, nil
	case "sub":
		return req.A - req.B, nil
	case "mul":
		return req.A * req.B, nil
	case "div":
		if req.B == 0 {
			return 0, errors.New("division by zero")
		}
		return req.A / req.B, nil
	default:
		return 0, errors.Errorf("unknown op: %s", req.Op)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chat-loop",
	Short: "Run a tool-calling chat turn with streaming progress output",
	RunE: func(cmd *cobra.Command, args []string) error {
		apiKey := os.Getenv("API_KEY")
		if apiKey == "" {
			return errors.New("API_KEY environment variable is required")
		}
		baseURL, _ := cmd.Flags().GetString("base-url")
		model, _ := cmd.Flags().GetString("model")
		prompt, _ := cmd.Flags().GetString("prompt")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")
		temperature, _ := cmd.Flags().GetFloat64("temperature")
		thinkingBudget, _ := cmd.Flags().GetInt("thinking-budget")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}

		registry := tools.NewInMemoryRegistry()
		calc, err := tools.NewDefinitionFromFunc("calculator", "evaluates simple arithmetic", calculator)
		if err != nil {
			return err
		}
		if err := registry.Register(calc); err != nil {
			return err
		}

		router, err := events.NewEventRouter()
		if err != nil {
			return err
		}
		defer func() {
			_ = router.Close()
		}()

		router.AddHandler("print-progress", "chat", func(msg *message.Message) error {
			defer msg.Ack()
			e, err := events.NewEventFromJson(msg.Payload)
			if err != nil {
				return err
			}
			switch ev := e.(type) {
			case *events.EventPartialCompletion:
				fmt.Print(ev.Delta)
			case *events.EventPartialThinking:
				log.Debug().Str("delta", ev.Delta).Msg("thinking")
			case *events.EventToolCall:
				fmt.Printf("\n[tool call %s(%s)]\n", ev.ToolCall.Name, ev.ToolCall.Input)
			case *events.EventToolCallExecutionResult:
				fmt.Printf("[tool result %s]\n", ev.ToolResult.Result)
			case *events.EventFinal:
				fmt.Println()
			case *events.EventError:
				fmt.Printf("\nerror: %s\n", ev.ErrorString)
			}
			return nil
		})

		publisherManager := events.NewPublisherManager()
		publisherManager.SubscribePublisher("chat", router.Publisher)

		client := api.NewClient(apiKey, baseURL)
		seq := sequencer.NewSequencer(client,
			sequencer.WithCoordinator(tools.NewCoordinator(registry)),
			sequencer.WithSink(publisherManager),
		)

		state := conversation.NewState()
		state.AppendUserText(prompt)

		params := sequencer.Params{
			Model:     model,
			MaxTokens: maxTokens,
			System:    []api.SystemBlock{api.NewSystemBlock("You are a concise assistant. Use the calculator for arithmetic.")},
			Registry:  registry,
		}
		if temperature >= 0 {
			params.Temperature = helpers.Float64Pointer(temperature)
		}
		if thinkingBudget > 0 {
			params.Thinking = thinking.Config{Enabled: true, BudgetTokens: thinkingBudget}
		}

		ctx := cmd.Context()
		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return router.Run(egCtx)
		})
		eg.Go(func() error {
			defer func() {
				_ = router.Close()
			}()
			<-router.Running()

			result, err := seq.Run(egCtx, state, params)
			if err != nil {
				return err
			}
			log.Info().
				Str("stop_reason", string(result.StopReason)).
				Int("iterations", result.Iterations).
				Int("output_tokens", result.Response.Usage.OutputTokens).
				Msg("turn settled")
			return nil
		})

		return eg.Wait()
	},
}

func main() {
	rootCmd.Flags().String("base-url", "https://api.anthropic.com", "service base URL")
	rootCmd.Flags().String("model", "claude-sonnet-4-0", "model to use")
	rootCmd.Flags().String("prompt", "What is 1337 * 42?", "user prompt")
	rootCmd.Flags().Int("max-tokens", 4096, "maximum output tokens")
	rootCmd.Flags().Float64("temperature", -1, "sampling temperature (negative leaves it unset)")
	rootCmd.Flags().Int("thinking-budget", 0, "reasoning token budget (0 disables)")
	rootCmd.Flags().Bool("verbose", false, "debug logging")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("chat-loop failed")
	}
}
