package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pders01/pollsync/internal/catalog"
	"github.com/pders01/pollsync/internal/dispatch/responses"
	"github.com/pders01/pollsync/internal/notify"
)

type answerOptions struct {
	poll     int64
	question int64
	user     int64
	option   int64
	text     string
	update   int64
	typ      string
	payload  string
}

var answerFlags answerOptions

func init() {
	rootCmd.AddCommand(answerCmd)
	f := answerCmd.Flags()
	f.Int64Var(&answerFlags.poll, "poll", 0, "poll id")
	f.Int64Var(&answerFlags.question, "question", 0, "question id")
	f.Int64Var(&answerFlags.user, "user", 0, "user id")
	f.Int64Var(&answerFlags.option, "option", 0, "chosen option id")
	f.StringVar(&answerFlags.text, "text", "", "free-text response")
	f.Int64Var(&answerFlags.update, "update", 0, "id of a delivered response to change")
	f.StringVar(&answerFlags.typ, "type", "", "raw submission type (with --payload)")
	f.StringVar(&answerFlags.payload, "payload", "", "raw JSON payload (with --type)")
}

var answerCmd = &cobra.Command{
	Use:   "answer",
	Short: "Submit a response, queueing it while offline",
	Example: `  pollsync answer --poll 1 --question 2 --option 4
  pollsync answer --poll 1 --question 3 --text "Tuesdays work best"
  pollsync answer --type submitResponse --payload '{"pollId":1,"questionId":2,"optionId":4}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, payload, err := answerSubmission(cmd)
		if err != nil {
			return err
		}

		printer := notify.NewPrinter(os.Stderr)
		rt, s, err := oneShot(cmd.Context(), printer)
		if err != nil {
			return err
		}
		defer rt.Close()
		defer s.Close()

		res, err := s.catalog.Submit(cmd.Context(), typ, payload)
		if err != nil {
			return err
		}
		printer.Notify(submitNotice(res))
		return nil
	},
}

// answerSubmission builds the submission from either the raw or the
// structured flags.
func answerSubmission(cmd *cobra.Command) (string, any, error) {
	f := answerFlags
	if f.typ != "" || f.payload != "" {
		if f.typ == "" || f.payload == "" {
			return "", nil, errors.New("--type and --payload go together")
		}
		if !json.Valid([]byte(f.payload)) {
			return "", nil, errors.New("--payload is not valid JSON")
		}
		return f.typ, json.RawMessage(f.payload), nil
	}

	a := responses.Answer{
		PollID:     f.poll,
		QuestionID: f.question,
		UserID:     f.user,
		Response:   f.text,
	}
	if cmd.Flags().Changed("option") {
		opt := f.option
		a.OptionID = &opt
	}
	if f.update > 0 {
		return responses.UpdateType, responses.Update{ID: f.update, Answer: a}, nil
	}
	return responses.SubmitType, a, nil
}

func submitNotice(res *catalog.SubmitResult) (notify.Kind, string) {
	if res.Delivered {
		return notify.Success, "Response sent"
	}
	return notify.Warn, fmt.Sprintf("Offline: response queued as %s", res.ItemID)
}
