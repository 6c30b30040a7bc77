package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newObserveCmd() *cobra.Command {
	var (
		serverURL string
		rounds    int
	)

	cmd := &cobra.Command{
		Use:   "observe",
		Short: "Drive the automated negotiation demo against a running server",
		Long:  "Posts /api/v1/agents/boost on a jittered 30-60s interval, advancing the scripted negotiation one phase per call. The round driver is a client by design: the server owns no background jobs. Stop with Ctrl-C, or bound the run with --rounds.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runObserve(cmd, serverURL, rounds)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the marketplace server")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "stop after this many rounds (0 = run until interrupted)")
	return cmd
}

type boostResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Phase   int    `json:"phase"`
		Seller  string `json:"seller"`
		Buyer   string `json:"buyer"`
		LotID   string `json:"lot_id"`
		TradeID string `json:"trade_id"`
		Message string `json:"message"`
	} `json:"data"`
	Error string `json:"error"`
	Hint  string `json:"hint"`
}

func runObserve(cmd *cobra.Command, serverURL string, rounds int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	client := &http.Client{Timeout: 15 * time.Second}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	fmt.Fprintf(out, "observing %s, boosting every 30-60s\n", serverURL)

	for i := 0; rounds == 0 || i < rounds; i++ {
		res, err := boostWithRetry(ctx, client, serverURL)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("boost failed after retries: %w", err)
		}

		fmt.Fprintf(out, "[phase %d] %s ↔ %s  lot=%s  %s\n",
			res.Data.Phase, res.Data.Seller, res.Data.Buyer, res.Data.LotID, res.Data.Message)
		if res.Data.TradeID != "" {
			fmt.Fprintf(out, "  trade closed: %s\n", res.Data.TradeID)
		}

		if rounds != 0 && i == rounds-1 {
			break
		}

		delay := 30*time.Second + time.Duration(rng.Intn(30))*time.Second
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
	return nil
}

// boostWithRetry posts one boost, retrying transient failures with
// exponential backoff for up to two minutes.
func boostWithRetry(ctx context.Context, client *http.Client, serverURL string) (*boostResponse, error) {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(2*time.Second),
		backoff.WithMaxInterval(30*time.Second),
		backoff.WithMaxElapsedTime(2*time.Minute),
	), ctx)

	var result *boostResponse
	operation := func() error {
		res, err := postBoost(ctx, client, serverURL)
		if err != nil {
			return err
		}
		result = res
		return nil
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

func postBoost(ctx context.Context, client *http.Client, serverURL string) (*boostResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		serverURL+"/api/v1/agents/boost", bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var res boostResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode boost response: %w", err)
	}
	if !res.Success {
		// 4xx failures (e.g. fewer than two agents) are not transient;
		// stop retrying and surface them.
		return nil, backoff.Permanent(fmt.Errorf("%s: %s", res.Error, res.Hint))
	}
	return &res, nil
}
