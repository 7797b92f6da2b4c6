package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"bobbrain/internal/domain/knowledge"
	applog "bobbrain/internal/platform/log"
)

const maxSlackBodyBytes = 1 << 20

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// Replier 把回答发回聊天频道
type Replier interface {
	Reply(ctx context.Context, channel, threadTS, text string) error
}

// SlackReplier 基于 chat.postMessage
type SlackReplier struct {
	client *slack.Client
}

func NewSlackReplier(botToken string) *SlackReplier {
	return &SlackReplier{client: slack.New(botToken)}
}

func (r *SlackReplier) Reply(ctx context.Context, channel, threadTS, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, _, err := r.client.PostMessageContext(ctx, channel, opts...)
	return err
}

// SlackHandler Slack Events API webhook。
// 验签后立即返回 200，回答在后台生成；重复投递由 Orchestrator 的事件去重挡掉。
type SlackHandler struct {
	signingSecret string
	orchestrator  *knowledge.Orchestrator
	replier       Replier
	timeout       time.Duration
	spawn         func(func())
}

func NewSlackHandler(signingSecret string, o *knowledge.Orchestrator, replier Replier, timeout time.Duration, spawn func(func())) *SlackHandler {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if spawn == nil {
		spawn = func(f func()) { go f() }
	}
	return &SlackHandler{
		signingSecret: signingSecret,
		orchestrator:  o,
		replier:       replier,
		timeout:       timeout,
		spawn:         spawn,
	}
}

func (h *SlackHandler) Events(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSlackBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	sv, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing slack signature")
		return
	}
	if _, err := sv.Write(body); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to verify signature")
		return
	}
	if err := sv.Ensure(); err != nil {
		applog.Warn("[Slack] signature verification failed", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid slack signature")
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		applog.Warn("[Slack] failed to parse event", "error", err)
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			writeError(w, http.StatusBadRequest, "invalid challenge")
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge.Challenge))
	case slackevents.CallbackEvent:
		// 重投的事件仍交给去重器判定，这里只记录
		if retry := r.Header.Get("X-Slack-Retry-Num"); retry != "" {
			applog.Debug("[Slack] retried delivery", "retry", retry, "reason", r.Header.Get("X-Slack-Retry-Reason"))
		}
		if ev, ok := toKnowledgeEvent(event); ok {
			h.spawn(func() { h.process(ev) })
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

type slackEvent struct {
	knowledge.Event
	ThreadTS string
}

// toKnowledgeEvent 只处理用户发出的 @ 提及与私信，忽略 bot 消息和编辑、删除等子类型。
func toKnowledgeEvent(event slackevents.EventsAPIEvent) (slackEvent, bool) {
	cb, ok := event.Data.(*slackevents.EventsAPICallbackEvent)
	if !ok {
		return slackEvent{}, false
	}
	var ev slackEvent
	ev.ID = cb.EventID

	switch inner := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if inner.BotID != "" {
			return slackEvent{}, false
		}
		ev.Channel, ev.User, ev.Text = inner.Channel, inner.User, inner.Text
		ev.ThreadTS = firstNonEmpty(inner.ThreadTimeStamp, inner.TimeStamp)
	case *slackevents.MessageEvent:
		if inner.BotID != "" || inner.SubType != "" || inner.ChannelType != "im" {
			return slackEvent{}, false
		}
		ev.Channel, ev.User, ev.Text = inner.Channel, inner.User, inner.Text
		ev.ThreadTS = inner.ThreadTimeStamp
	default:
		return slackEvent{}, false
	}

	ev.Text = strings.TrimSpace(mentionPattern.ReplaceAllString(ev.Text, ""))
	return ev, ev.Text != ""
}

func (h *SlackHandler) process(ev slackEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	ans, err := h.orchestrator.HandleEvent(ctx, ev.Event)
	if errors.Is(err, knowledge.ErrDuplicateEvent) {
		return
	}
	text := ""
	if err != nil {
		applog.Error("[Slack] failed to answer", "event_id", ev.ID, "channel", ev.Channel, "error", err)
		text = "Sorry, I couldn't answer that right now."
	} else {
		text = ans.Text
	}
	if h.replier == nil {
		return
	}
	if err := h.replier.Reply(ctx, ev.Channel, ev.ThreadTS, text); err != nil {
		applog.Error("[Slack] failed to post reply", "event_id", ev.ID, "channel", ev.Channel, "error", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
