package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/seventeenk/storefront/internal/adapter/payment"
)

func newWebhookCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Payment webhook tools",
	}
	cmd.AddCommand(newWebhookReplayCommand(opts))
	return cmd
}

type replayOptions struct {
	url         string
	secret      string
	file        string
	count       int
	concurrency int
	timeout     time.Duration
}

type replayResult struct {
	Fulfilled int32
	Duplicate int32
	Ignored   int32
	Rejected  int32
	Duration  time.Duration
}

func newWebhookReplayCommand(opts *rootOptions) *cobra.Command {
	ro := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Deliver one signed webhook payload many times at once",
		Long: `Signs a payment callback payload and posts it --count times with up
to --concurrency requests in flight, then reports how the server answered.
A healthy deployment fulfills a successful payment exactly once and
acknowledges every other delivery as a duplicate.

Example:
  storefront webhook replay --file callback.json --count 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if ro.secret == "" {
				ro.secret = cfg.Payment.WebhookSecret
			}
			body, err := readPayload(cmd, ro.file)
			if err != nil {
				return err
			}

			res, err := replayWebhook(cmd.Context(), http.DefaultClient, ro, body)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "========== WEBHOOK REPLAY RESULTS ==========")
			fmt.Fprintf(out, "Deliveries:  %d\n", ro.count)
			fmt.Fprintf(out, "Fulfilled:   %d\n", res.Fulfilled)
			fmt.Fprintf(out, "Duplicate:   %d\n", res.Duplicate)
			fmt.Fprintf(out, "Ignored:     %d\n", res.Ignored)
			fmt.Fprintf(out, "Rejected:    %d\n", res.Rejected)
			fmt.Fprintf(out, "Duration:    %v\n", res.Duration)
			fmt.Fprintln(out, "============================================")

			if res.Fulfilled > 1 {
				return fmt.Errorf("payment fulfilled %d times", res.Fulfilled)
			}
			if res.Rejected > 0 {
				return fmt.Errorf("%d deliveries rejected", res.Rejected)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&ro.url, "url", "http://localhost:8080/api/grey/webhook", "Webhook endpoint")
	f.StringVar(&ro.secret, "secret", "", "Signing secret (defaults to payment.webhook_secret)")
	f.StringVarP(&ro.file, "file", "f", "", `Callback JSON payload, "-" for stdin (required)`)
	f.IntVarP(&ro.count, "count", "n", 10, "Number of deliveries")
	f.IntVar(&ro.concurrency, "concurrency", 10, "Deliveries in flight at once")
	f.DurationVar(&ro.timeout, "timeout", 10*time.Second, "Per delivery timeout")
	cmd.MarkFlagRequired("file")
	return cmd
}

func readPayload(cmd *cobra.Command, path string) ([]byte, error) {
	body, err := readInput(cmd, path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if !json.Valid(body) {
		return nil, errors.New("payload is not valid JSON")
	}
	return body, nil
}

// replayWebhook posts body ro.count times. Every delivery carries a fresh
// signature so none of them falls outside the tolerance window.
func replayWebhook(ctx context.Context, client *http.Client, ro *replayOptions, body []byte) (*replayResult, error) {
	if ro.count <= 0 {
		return nil, errors.New("count must be positive")
	}
	if ro.concurrency <= 0 {
		ro.concurrency = 1
	}
	if ro.timeout <= 0 {
		ro.timeout = 10 * time.Second
	}

	var fulfilled, duplicate, ignored, rejected atomic.Int32
	sem := make(chan struct{}, ro.concurrency)
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < ro.count; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			switch deliver(ctx, client, ro, body) {
			case "fulfilled":
				fulfilled.Add(1)
			case "duplicate":
				duplicate.Add(1)
			case "ignored":
				ignored.Add(1)
			default:
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	return &replayResult{
		Fulfilled: fulfilled.Load(),
		Duplicate: duplicate.Load(),
		Ignored:   ignored.Load(),
		Rejected:  rejected.Load(),
		Duration:  time.Since(start),
	}, nil
}

func deliver(ctx context.Context, client *http.Client, ro *replayOptions, body []byte) string {
	ctx, cancel := context.WithTimeout(ctx, ro.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ro.url, bytes.NewReader(body))
	if err != nil {
		return "rejected"
	}
	req.Header.Set("Content-Type", "application/json")
	if ro.secret != "" {
		req.Header.Set(payment.SignatureHeader, payment.Sign(ro.secret, time.Now(), body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return "rejected"
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "rejected"
	}

	var ack struct {
		Success   bool `json:"success"`
		Duplicate bool `json:"duplicate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "rejected"
	}
	switch {
	case ack.Success:
		return "fulfilled"
	case ack.Duplicate:
		return "duplicate"
	}
	return "ignored"
}
