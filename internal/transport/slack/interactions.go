package slack

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"

	"viewbot/internal/interaction"
	logx "viewbot/pkg/logx"
)

const respondTimeout = 2500 * time.Millisecond

var (
	ErrNoSecret     = errors.New("slack signing secret is not configured")
	ErrBadSignature = errors.New("slack signature mismatch")
	ErrStaleRequest = errors.New("slack request timestamp out of range")
)

// Responder posts the resolved reply. *Client implements it.
type Responder interface {
	Respond(ctx context.Context, responseURL string, r interaction.Response) error
}

// ActionOf returns the first block action of cb as an interaction.Action.
func ActionOf(cb slackapi.InteractionCallback) interaction.Action {
	act := interaction.Action{UserID: cb.User.ID, UserName: cb.User.Name}
	if len(cb.ActionCallback.BlockActions) == 0 {
		return act
	}
	a := cb.ActionCallback.BlockActions[0]
	switch {
	case a.SelectedOption.Value != "":
		act.Value = a.SelectedOption.Value
		if a.SelectedOption.Text != nil {
			act.Text = a.SelectedOption.Text.Text
		}
	default:
		act.Value = a.Value
		act.Text = a.Text.Text
	}
	return act
}

// VerifyRequest checks the v0 request signature over the raw body. An empty
// secret never verifies.
func VerifyRequest(secret string, h http.Header, body []byte) error {
	if strings.TrimSpace(secret) == "" {
		return ErrNoSecret
	}
	sv, err := slackapi.NewSecretsVerifier(h, secret)
	switch {
	case errors.Is(err, slackapi.ErrExpiredTimestamp):
		return ErrStaleRequest
	case err != nil:
		return errors.Join(ErrBadSignature, err)
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	if err := sv.Ensure(); err != nil {
		return ErrBadSignature
	}
	return nil
}

// InteractionHandler serves Slack's interactivity request URL. Each action is
// resolved from the message metadata alone and answered via response_url.
// Requests are refused unless Secret is set and the signature matches.
type InteractionHandler struct {
	Secret    string
	Responder Responder
	Log       logx.Logger
	// OnAction is called after a successful resolve, e.g. to record the answer.
	OnAction func(ctx context.Context, act interaction.Action, r interaction.Response)
}

func (h *InteractionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if err := VerifyRequest(h.Secret, r.Header, body); err != nil {
		log.Warn("interaction rejected", logx.Err(err))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	var cb slackapi.InteractionCallback
	if err := cb.UnmarshalJSON([]byte(form.Get("payload"))); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if cb.Type != slackapi.InteractionTypeBlockActions {
		w.WriteHeader(http.StatusOK)
		return
	}

	act := ActionOf(cb)
	resp, err := interaction.Resolve(cb.Message.Metadata.EventPayload, act)
	if err != nil {
		log.Debug("interaction without metadata", logx.String("user", cb.User.ID), logx.Err(err))
		w.WriteHeader(http.StatusOK)
		return
	}
	log.Info("interaction resolved",
		logx.String("view", resp.View),
		logx.Int("row", resp.RowIndex),
		logx.String("user", cb.User.ID),
		logx.String("value", act.Value),
	)
	if h.OnAction != nil {
		h.OnAction(r.Context(), act, resp)
	}
	if h.Responder != nil && strings.TrimSpace(cb.ResponseURL) != "" {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), respondTimeout)
		defer cancel()
		if err := h.Responder.Respond(ctx, cb.ResponseURL, resp); err != nil {
			log.Warn("interaction response failed", logx.String("view", resp.View), logx.Err(err))
		}
	}
	w.WriteHeader(http.StatusOK)
}
