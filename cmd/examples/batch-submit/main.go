package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/loom/pkg/api"
	"github.com/go-go-golems/loom/pkg/batch"
)

var rootCmd = &cobra.Command{
	Use:   "batch-submit [prompts-file]",
	Short: "Submit a file of prompts as one batch job and wait for results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		apiKey := os.Getenv("API_KEY")
		if apiKey == "" {
			return errors.New("API_KEY environment variable is required")
		}
		baseURL, _ := cmd.Flags().GetString("base-url")
		model, _ := cmd.Flags().GetString("model")
		maxTokens, _ := cmd.Flags().GetInt("max-tokens")
		pollInterval, _ := cmd.Flags().GetDuration("poll-interval")

		requests, err := readPrompts(args[0], model, maxTokens)
		if err != nil {
			return err
		}

		scheduler := batch.NewScheduler(api.NewClient(apiKey, baseURL))
		ctx := cmd.Context()

		job, err := scheduler.Submit(ctx, requests)
		if err != nil {
			return err
		}
		log.Info().Str("batch_id", job.ID()).Int("requests", len(requests)).Msg("submitted")

		for !job.Ended() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			resource, err := job.Poll(ctx)
			if err != nil {
				return err
			}
			counts := resource.RequestCounts
			log.Info().
				Str("status", string(resource.ProcessingStatus)).
				Int("processing", counts.Processing).
				Int("succeeded", counts.Succeeded).
				Int("errored", counts.Errored).
				Msg("poll")
		}

		return job.Results(ctx, func(r api.BatchResult) error {
			switch r.Result.Type {
			case api.BatchResultSucceeded:
				fmt.Printf("%s\t%s\n", r.CustomID, r.Result.Message.FullText())
			case api.BatchResultErrored:
				fmt.Printf("%s\tERROR: %s\n", r.CustomID, r.Result.Error.Error.Message)
			default:
				fmt.Printf("%s\t%s\n", r.CustomID, r.Result.Type)
			}
			return nil
		})
	},
}

// readPrompts turns each non-empty line of the file into one batch request.
func readPrompts(path, model string, maxTokens int) ([]api.BatchRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open prompts file")
	}
	defer func() {
		_ = f.Close()
	}()

	var requests []api.BatchRequest
	scanner := bufio.NewScanner(f)
	for i := 0; scanner.Scan(); i++ {
		line := scanner.Text()
		if line == "" {
			continue
		}
		requests = append(requests, api.BatchRequest{
			CustomID: fmt.Sprintf("prompt-%05d", i),
			Params: api.MessageRequest{
				Model:     model,
				MaxTokens: maxTokens,
				Messages: []api.Message{
					{Role: api.RoleUser, Content: api.ContentList{api.NewTextContent(line)}},
				},
			},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

func main() {
	rootCmd.Flags().String("base-url", "https://api.anthropic.com", "service base URL")
	rootCmd.Flags().String("model", "claude-sonnet-4-0", "model to use")
	rootCmd.Flags().Int("max-tokens", 1024, "maximum output tokens per request")
	rootCmd.Flags().Duration("poll-interval", 30*time.Second, "time between status polls")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("batch-submit failed")
	}
}
