package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/simhastha/anubhav-gateway/internal/domain"
	"github.com/simhastha/anubhav-gateway/internal/mapcmd"
)

type askOptions struct {
	language      string
	layers        []string
	correlationID string
	raw           bool
}

func newAskCmd(opts *options) *cobra.Command {
	ask := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one chat message and print the reply",
		Example: `  chatctl ask "Which ghats are near Mahakaleshwar?" --layer ghats --layer temples
  chatctl ask "Route from Ram Ghat to Harsiddhi" --lang Hindi`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, opts, ask, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&ask.language, "lang", "English", "reply language")
	cmd.Flags().StringSliceVar(&ask.layers, "layer", nil, "enabled map layer, or name=false (repeatable)")
	cmd.Flags().StringVar(&ask.correlationID, "correlation-id", "", "correlation id (random when empty)")
	cmd.Flags().BoolVar(&ask.raw, "raw", false, "print the raw JSON response")
	return cmd
}

func parseLayers(values []string) domain.Layers {
	var layers domain.Layers
	for _, v := range values {
		name, value, found := strings.Cut(v, "=")
		enabled := !found || value == "true"
		if name = strings.TrimSpace(name); name != "" {
			layers.Set(name, enabled)
		}
	}
	return layers
}

func runAsk(cmd *cobra.Command, opts *options, ask *askOptions, message string) error {
	correlationID := ask.correlationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	req := domain.ChatRequest{
		Message: message,
		SystemContext: domain.SystemContext{
			Language: ask.language,
			Layers:   parseLayers(ask.layers),
		},
		CorrelationID: correlationID,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	client := &http.Client{Timeout: opts.timeout}
	httpReq, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimRight(opts.server, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	out := cmd.OutOrStdout()
	if ask.raw {
		_, err := out.Write(append(respBody, '\n'))
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	var chatResp domain.ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if chatResp.Failed() {
		msg := chatResp.Error
		if chatResp.Details != "" {
			msg += " (" + chatResp.Details + ")"
		}
		return errors.New(msg)
	}

	fmt.Fprintln(out, mapcmd.Strip(chatResp.Text))
	if model := resp.Header.Get("X-Model"); model != "" {
		fmt.Fprintf(out, "\nmodel: %s\n", model)
	}
	if cmds := mapcmd.Parse(chatResp.Text); len(cmds) > 0 {
		fmt.Fprintln(out, "map commands:")
		for _, c := range cmds {
			fmt.Fprintf(out, "  - %s\n", c)
		}
	}
	return nil
}
