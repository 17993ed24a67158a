package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/slack-go/slack"

	"github.com/devanshuguptaa/Converge-AI/internal/rag"
	"github.com/devanshuguptaa/Converge-AI/internal/tools"
)

type mockAPI struct {
	posted    []string
	reactions []string
	pages     [][]slack.Channel
	history   []slack.Message
	err       error
}

func (m *mockAPI) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	if m.err != nil {
		return "", "", m.err
	}
	m.posted = append(m.posted, channelID)
	return channelID, "1700000000.000100", nil
}

func (m *mockAPI) GetConversationHistoryContext(_ context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	if params.Limit != 20 {
		return nil, errors.New("unexpected limit")
	}
	return &slack.GetConversationHistoryResponse{Messages: m.history}, nil
}

func (m *mockAPI) GetConversationsContext(_ context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	idx := 0
	if params.Cursor != "" {
		idx = 1
	}
	next := ""
	if idx+1 < len(m.pages) {
		next = "page2"
	}
	return m.pages[idx], next, nil
}

func (m *mockAPI) GetUserInfoContext(_ context.Context, userID string) (*slack.User, error) {
	u := &slack.User{ID: userID, Name: "ada", RealName: "Ada Lovelace", TZ: "Europe/London"}
	u.Profile.Title = "Engineer"
	return u, nil
}

func (m *mockAPI) AddReactionContext(_ context.Context, name string, item slack.ItemRef) error {
	m.reactions = append(m.reactions, name+"@"+item.Channel+"/"+item.Timestamp)
	return nil
}

type fakeSearch struct{ opts rag.SearchOptions }

func (f *fakeSearch) Query(_ context.Context, _ string, opts rag.SearchOptions) ([]rag.Hit, error) {
	f.opts = opts
	return []rag.Hit{{
		Document: rag.Document{ChannelID: "C1", ChannelName: "eng", UserID: "U7", Timestamp: "1.5", Text: "deploy is friday"},
		Score:    0.91,
	}}, nil
}

func channel(id, name string) slack.Channel {
	var c slack.Channel
	c.ID = id
	c.Name = name
	c.IsMember = true
	return c
}

func newRegistry(t *testing.T, deps Deps) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	if err := Register(reg, deps); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return reg
}

func invoke(t *testing.T, reg *tools.Registry, name, args string) (string, error) {
	t.Helper()
	d, err := reg.Resolve(name)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.ValidateArgs(json.RawMessage(args)); err != nil {
		return "", err
	}
	return d.Invoker.Invoke(context.Background(), json.RawMessage(args))
}

func TestSearchRegisteredOnlyWithIndex(t *testing.T) {
	reg := newRegistry(t, Deps{API: &mockAPI{}})
	if _, err := reg.Resolve("search_slack_history"); !errors.Is(err, tools.ErrToolNotFound) {
		t.Fatalf("search without index: %v", err)
	}
	if reg.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", reg.Len())
	}
}

func TestSearchHistory(t *testing.T) {
	search := &fakeSearch{}
	reg := newRegistry(t, Deps{API: &mockAPI{}, Search: search})
	out, err := invoke(t, reg, "search_slack_history", `{"query":"deploy","channel_id":"C1"}`)
	if err != nil {
		t.Fatal(err)
	}
	if search.opts.ChannelID != "C1" || search.opts.Limit != 5 {
		t.Fatalf("opts = %+v", search.opts)
	}
	if !strings.Contains(out, "slack #eng <@U7> 1.5") || !strings.Contains(out, "deploy is friday") {
		t.Fatalf("out = %q", out)
	}
}

func TestSendAndReact(t *testing.T) {
	api := &mockAPI{}
	reg := newRegistry(t, Deps{API: api})
	out, err := invoke(t, reg, "send_slack_message", `{"channel":"C9","text":"hi","thread_ts":"1.1"}`)
	if err != nil || !strings.Contains(out, "C9") {
		t.Fatalf("send = %q, %v", out, err)
	}
	if _, err := invoke(t, reg, "add_reaction", `{"channel":"C9","timestamp":"1.1","emoji":":tada:"}`); err != nil {
		t.Fatal(err)
	}
	if len(api.reactions) != 1 || api.reactions[0] != "tada@C9/1.1" {
		t.Fatalf("reactions = %v", api.reactions)
	}

	api.err = errors.New("channel_not_found")
	if _, err := invoke(t, reg, "send_slack_message", `{"channel":"C0","text":"hi"}`); err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("send error = %v", err)
	}
}

func TestHistorySkipsSystemMessages(t *testing.T) {
	api := &mockAPI{}
	var joined, normal slack.Message
	joined.SubType = "channel_join"
	joined.Text = "joined"
	normal.User = "U1"
	normal.Timestamp = "2.0"
	normal.Text = "ship it"
	api.history = []slack.Message{joined, normal}

	reg := newRegistry(t, Deps{API: api})
	out, err := invoke(t, reg, "get_channel_history", `{"channel":"C1"}`)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "joined") || !strings.Contains(out, "ship it") {
		t.Fatalf("out = %s", out)
	}
}

func TestListChannelsPaginates(t *testing.T) {
	api := &mockAPI{pages: [][]slack.Channel{{channel("C1", "general")}, {channel("C2", "eng")}}}
	reg := newRegistry(t, Deps{API: api})
	out, err := invoke(t, reg, "list_channels", `{}`)
	if err != nil {
		t.Fatal(err)
	}
	var got []channelEntry
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Name != "eng" {
		t.Fatalf("channels = %+v", got)
	}
}

func TestUserInfo(t *testing.T) {
	reg := newRegistry(t, Deps{API: &mockAPI{}})
	out, err := invoke(t, reg, "get_user_info", `{"user_id":"U1"}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"real_name": "Ada Lovelace"`) || !strings.Contains(out, `"title": "Engineer"`) {
		t.Fatalf("out = %s", out)
	}
}
