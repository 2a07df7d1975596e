package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/paddock/internal/adapters/http/api"
	"github.com/okian/paddock/internal/adapters/paste"
	"github.com/okian/paddock/pkg/logger"
)

// PasteOptions holds flags for the paste command.
type PasteOptions struct {
	*RootOptions
	URL      string
	Source   string
	Sentinel string
	Timeout  time.Duration
}

// NewPasteCommand creates the paste command.
func NewPasteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PasteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Send pasted race cards to a running desktop service",
		Long: `Read race cards from stdin and post each one to the desktop service. A line
holding only the sentinel (default END) ends a card; EOF ends the last one.

Example:
  paddock paste --source racecard
  pbpaste | paddock paste --url http://localhost:9080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPaste(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "base URL of the desktop service (default http://<addr>)")
	cmd.Flags().StringVar(&opts.Source, "source", "paste", "source ID recorded for the cards")
	cmd.Flags().StringVar(&opts.Sentinel, "sentinel", "", "line that ends a card (default from config)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "HTTP request timeout")

	return cmd
}

func runPaste(cmd *cobra.Command, opts *PasteOptions) error {
	ctx, stop := withSignals(cmd.Context())
	defer stop()

	base := opts.URL
	if base == "" {
		base = localURL(opts.Config.Addr)
	}
	sentinel := opts.Sentinel
	if sentinel == "" {
		sentinel = opts.Config.PasteSentinel
	}

	c := &pasteClient{
		client:   &http.Client{Timeout: opts.Timeout},
		endpoint: strings.TrimRight(base, "/") + "/paste?source=" + url.QueryEscape(opts.Source),
	}
	log := logger.Named("paste")
	out := cmd.OutOrStdout()

	return paste.ReadBlocks(ctx, cmd.InOrStdin(), sentinel, func(ctx context.Context, block string) error {
		resp, err := c.post(ctx, block)
		if err != nil {
			// A bad card should not end the session.
			log.Warn(ctx, "card not accepted", logger.Error(err))
			return nil
		}
		for _, r := range resp.Results {
			state := r.Status
			if r.Duplicate {
				state = "duplicate"
			}
			if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", r.RaceKey, state, r.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// localURL turns a listen address such as ":9080" into a loopback URL.
func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// pasteClient posts card text to POST /paste.
type pasteClient struct {
	client   *http.Client
	endpoint string
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *pasteClient) post(ctx context.Context, block string) (api.SubmitResponse, error) {
	var out api.SubmitResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBufferString(block))
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return out, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e errorBody
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return out, fmt.Errorf("status %d: %s", resp.StatusCode, e.Message)
		}
		return out, fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
