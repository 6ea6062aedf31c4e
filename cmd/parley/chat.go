package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rhuss/parley/pkg/api"
	"github.com/rhuss/parley/pkg/orchestrator"
)

var (
	dim       = color.New(color.Faint)
	toolColor = color.New(color.FgCyan)
	errColor  = color.New(color.FgRed, color.Bold)
)

func newChatCmd(load loadFunc) *cobra.Command {
	var (
		backendName string
		model       string
		stream      bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send one message and print the reply",
		Long:  "Send one message and print the reply. Without an argument the message is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := messageText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, logger, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			req := api.ChatRequest{
				Provider: backendName,
				Model:    model,
				Messages: []api.Message{api.NewMessage(api.RoleUser, text)},
			}
			out := cmd.OutOrStdout()
			if stream {
				return streamChat(ctx, out, a.orch, req)
			}

			resp, err := a.orch.Send(ctx, req)
			if err != nil {
				return err
			}
			printResponse(out, resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&backendName, "backend", "b", "", "backend name (default from config)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model ID")
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "stream the reply as it is generated")
	return cmd
}

// messageText returns the message from args, or all of stdin.
func messageText(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("reading message from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("no message given")
	}
	return text, nil
}

func printResponse(out io.Writer, resp *api.Response) {
	for _, tc := range resp.ToolCalls {
		toolColor.Fprintf(out, "[%s] %s\n", tc.ToolName, tc.Result)
	}
	fmt.Fprintln(out, resp.Message.Content)
	dim.Fprintf(out, "(%s/%s)\n", resp.ProviderUsed, resp.ModelUsed)
}

func streamChat(ctx context.Context, out io.Writer, orch *orchestrator.Orchestrator, req api.ChatRequest) error {
	updates, err := orch.OpenStream(ctx, req)
	if err != nil {
		return err
	}

	for u := range updates {
		switch u.Type {
		case api.UpdateContent:
			fmt.Fprint(out, u.Content)
		case api.UpdateToolCallStart:
			toolColor.Fprintf(out, "\n[calling %s]\n", u.ToolName)
		case api.UpdateToolCallComplete:
			toolColor.Fprintf(out, "[%s] %s\n", u.ToolName, u.Content)
		case api.UpdateError:
			fmt.Fprintln(out)
			errColor.Fprintln(out, u.Content)
			return errors.New("stream failed")
		}
		if u.IsFinal {
			fmt.Fprintln(out)
		}
	}
	return ctx.Err()
}
