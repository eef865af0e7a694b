package responses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pders01/pollsync/internal/dispatch"
)

const (
	SubmitType = "submitResponse"
	UpdateType = "updateResponse"
)

// Answer is one user's answer to one question. OptionID is nil for free-text
// questions.
type Answer struct {
	PollID     int64  `json:"pollId"`
	QuestionID int64  `json:"questionId"`
	UserID     int64  `json:"userId"`
	OptionID   *int64 `json:"optionId"`
	Response   string `json:"response"`
}

func (a *Answer) validate() error {
	if a.PollID <= 0 {
		return errors.New("pollId is required")
	}
	if a.QuestionID <= 0 {
		return errors.New("questionId is required")
	}
	if a.OptionID == nil && strings.TrimSpace(a.Response) == "" {
		return errors.New("either optionId or response is required")
	}
	return nil
}

// Update changes a previously delivered answer.
type Update struct {
	ID int64 `json:"id"`
	Answer
}

// Register adds the response routes to a registry.
func Register(r *dispatch.Registry) {
	r.Register(SubmitRoute{})
	r.Register(UpdateRoute{})
}

// SubmitRoute posts new answers to /responses.
type SubmitRoute struct{}

func (SubmitRoute) Type() string { return SubmitType }

func (SubmitRoute) Validate(payload json.RawMessage) error {
	var a Answer
	if err := json.Unmarshal(payload, &a); err != nil {
		return err
	}
	return a.validate()
}

func (SubmitRoute) Send(ctx context.Context, poster dispatch.Poster, payload json.RawMessage) error {
	return poster.PostJSON(ctx, "/responses", payload)
}

// UpdateRoute puts corrected answers to /responses/{id}.
type UpdateRoute struct{}

func (UpdateRoute) Type() string { return UpdateType }

func (UpdateRoute) Validate(payload json.RawMessage) error {
	var u Update
	if err := json.Unmarshal(payload, &u); err != nil {
		return err
	}
	if u.ID <= 0 {
		return errors.New("id is required")
	}
	return u.validate()
}

func (UpdateRoute) Send(ctx context.Context, poster dispatch.Poster, payload json.RawMessage) error {
	var u Update
	if err := json.Unmarshal(payload, &u); err != nil {
		return fmt.Errorf("decoding %s payload: %w", UpdateType, err)
	}
	return poster.PutJSON(ctx, fmt.Sprintf("/responses/%d", u.ID), payload)
}
