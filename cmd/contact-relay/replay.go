package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shineum/contact-relay/internal/relay"
)

var replayLatest bool

func init() {
	replayCmd.Flags().BoolVar(&replayLatest, "latest", false, "replay the newest stored submission instead of a payload")
}

var replayCmd = &cobra.Command{
	Use:   "replay [payload]",
	Short: "Send one notification through the relay",
	Long: `Push a single payload through parse, sanitize, render, and send, exactly as
a database notification would be handled. Use "-" to read the payload from
stdin, or --latest to resend the newest stored submission.

Examples:
  # Replay a JSON payload
  contact-relay replay '{"name":"Jane","email":"jane@example.com","message":"Hi"}'

  # Replay from stdin
  echo 'plain text notification' | contact-relay replay -

  # Resend the newest stored submission
  contact-relay replay --latest`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayLatest == (len(args) == 1) {
		return errors.New("pass either a payload or --latest")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	r, err := newRelay(ctx, cfg)
	if err != nil {
		return err
	}

	var res relay.Result
	if replayLatest {
		recs, err := fetchRecent(ctx, cfg, 1)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return errors.New("no stored contact messages to replay")
		}
		res = r.HandleRecord(ctx, recs[0])
	} else {
		payload, err := readPayload(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		res = r.Handle(ctx, payload, nowFunc())
	}

	return reportResult(cmd.OutOrStdout(), res)
}

func readPayload(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func reportResult(w io.Writer, res relay.Result) error {
	if res.Failed() {
		if res.Alerted {
			fmt.Fprintln(w, "delivery failed; alert email sent")
		} else {
			fmt.Fprintln(w, "delivery failed; alert email also failed:", res.AlertErr)
		}
		return res.Err
	}
	id := res.MessageID
	if id == "" {
		id = "(none reported)"
	}
	fmt.Fprintf(w, "sent notification for %s <%s>, message id %s\n", res.Event.Name, res.Event.Email, id)
	return nil
}
