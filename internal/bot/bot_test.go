package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/BTreeMap/ReplayPipe/internal/models"
	"github.com/BTreeMap/ReplayPipe/internal/replay"
	"github.com/BTreeMap/ReplayPipe/internal/testutil"
	"github.com/BTreeMap/ReplayPipe/internal/viewer"
)

// fakeAPI records every REST call the handlers make.
type fakeAPI struct {
	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	followups []*discordgo.WebhookParams
	deleted   []string
	edits     []*discordgo.MessageEdit
	sent      map[string][]string
	nextID    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{sent: make(map[string][]string)}
}

func (f *fakeAPI) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeAPI) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, data)
	f.nextID++
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", f.nextID), ChannelID: "chan"}, nil
}

func (f *fakeAPI) FollowupMessageDelete(_ *discordgo.Interaction, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeAPI) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, m)
	return &discordgo.Message{ID: m.ID, ChannelID: m.Channel}, nil
}

func (f *fakeAPI) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[channelID] = append(f.sent[channelID], content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (f *fakeAPI) HeartbeatLatency() time.Duration {
	return 42 * time.Millisecond
}

func (f *fakeAPI) lastResponse(t *testing.T) *discordgo.InteractionResponse {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		t.Fatal("no interaction response recorded")
	}
	return f.responses[len(f.responses)-1]
}

func (f *fakeAPI) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

type fakeLoader struct {
	prepareErr error
	loadErr    error
	cached     bool
}

func (f *fakeLoader) Prepare(ctx context.Context, rawURL string) (*replay.Request, error) {
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	req := &replay.Request{URL: rawURL, ReplayID: "gen3ou-2000000000", Meta: testutil.SampleMeta()}
	if f.cached {
		r := testutil.SampleReplay()
		req.Cached = &r
	}
	return req, nil
}

func (f *fakeLoader) Load(ctx context.Context, req *replay.Request) (models.ParsedReplay, error) {
	if f.loadErr != nil {
		return models.ParsedReplay{}, f.loadErr
	}
	if req.Cached != nil {
		return *req.Cached, nil
	}
	return testutil.SampleReplay(), nil
}

func member(userID string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: userID}}
}

func replayCommand(userID, url string) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "chan",
		Member:    member(userID),
		Data: discordgo.ApplicationCommandInteractionData{
			Name: commandReplay,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: optionURL, Type: discordgo.ApplicationCommandOptionString, Value: url},
			},
		},
	}
}

func press(userID, sessionID, action string) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "chan",
		Member:    member(userID),
		Data: discordgo.MessageComponentInteractionData{
			CustomID:      customID(sessionID, action),
			ComponentType: discordgo.ButtonComponent,
		},
	}
}

func submitTurn(userID, sessionID, value string) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionModalSubmit,
		ChannelID: "chan",
		User:      &discordgo.User{ID: userID},
		Data: discordgo.ModalSubmitInteractionData{
			CustomID: customID(sessionID, actionGoto),
			Components: []discordgo.MessageComponent{
				&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: turnInputID, Value: value},
				}},
			},
		},
	}
}

func newTestBot(loader ReplayLoader, opts ...Option) (*Bot, *fakeAPI) {
	api := newFakeAPI()
	b := newBot(api, loader, applyOptions(opts))
	return b, api
}

func TestReplayCommandScrapesAndOpensViewer(t *testing.T) {
	b, api := newTestBot(&fakeLoader{})
	defer b.Stop()

	b.handleInteraction(replayCommand("owner", testutil.SampleReplayURL))

	if len(api.responses) != 1 || api.responses[0].Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Fatalf("expected a single deferred response, got %+v", api.responses)
	}
	if len(api.followups) != 2 {
		t.Fatalf("expected please-wait and viewer followups, got %d", len(api.followups))
	}
	if api.followups[0].Content != msgPleaseWait {
		t.Errorf("first followup = %q", api.followups[0].Content)
	}
	viewerMsg := api.followups[1]
	if len(viewerMsg.Embeds) != 2 || len(viewerMsg.Components) != 2 {
		t.Errorf("viewer message has %d embeds and %d rows", len(viewerMsg.Embeds), len(viewerMsg.Components))
	}
	if len(api.deleted) != 1 || api.deleted[0] != "msg-1" {
		t.Errorf("please-wait message not deleted: %v", api.deleted)
	}
	if b.sessions.Len() != 1 {
		t.Errorf("live sessions = %d", b.sessions.Len())
	}
	if len(b.messages) != 1 {
		t.Errorf("tracked messages = %d", len(b.messages))
	}
}

func TestReplayCommandFromStoreSkipsPleaseWait(t *testing.T) {
	b, api := newTestBot(&fakeLoader{cached: true})
	defer b.Stop()

	b.handleInteraction(replayCommand("owner", testutil.SampleReplayURL))

	if len(api.followups) != 1 || len(api.followups[0].Embeds) != 2 {
		t.Fatalf("expected only the viewer followup, got %+v", api.followups)
	}
	if len(api.deleted) != 0 {
		t.Errorf("unexpected deletes: %v", api.deleted)
	}
}

func TestReplayCommandFailures(t *testing.T) {
	tests := []struct {
		name      string
		loader    *fakeLoader
		want      string
		operators bool
	}{
		{"bad url", &fakeLoader{prepareErr: fmt.Errorf("%w: nope", models.ErrInvalidReplayURL)}, msgInvalidURL, false},
		{"upstream", &fakeLoader{prepareErr: fmt.Errorf("%w: 404", models.ErrUpstreamUnavailable)}, msgUpstream, false},
		{"timeout", &fakeLoader{loadErr: fmt.Errorf("%w: slow", models.ErrScrapeTimeout)}, msgScrapeTimeout, false},
		{"wait deadline", &fakeLoader{loadErr: context.DeadlineExceeded}, msgWaitTimeout, false},
		{"unexpected", &fakeLoader{loadErr: fmt.Errorf("%w: boom", models.ErrScrapeFailed)}, msgScrapeFailed, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api := newTestBot(tt.loader, WithLogChannel("ops"))
			defer b.Stop()

			b.handleInteraction(replayCommand("owner", testutil.SampleReplayURL))

			last := api.followups[len(api.followups)-1]
			if last.Content != tt.want {
				t.Errorf("user message = %q, want %q", last.Content, tt.want)
			}
			if last.Flags&discordgo.MessageFlagsEphemeral == 0 {
				t.Error("failure message is not ephemeral")
			}
			if got := len(api.sent["ops"]) > 0; got != tt.operators {
				t.Errorf("operator log posted = %v, want %v", got, tt.operators)
			}
			if b.sessions.Len() != 0 {
				t.Error("failed command created a session")
			}
		})
	}
}

func TestReplayCommandRejectsUnknownTheme(t *testing.T) {
	b, api := newTestBot(&fakeLoader{})
	defer b.Stop()

	i := replayCommand("owner", testutil.SampleReplayURL)
	data := i.Data.(discordgo.ApplicationCommandInteractionData)
	data.Options = append(data.Options, &discordgo.ApplicationCommandInteractionDataOption{
		Name: optionTheme, Type: discordgo.ApplicationCommandOptionString, Value: "sepia",
	})
	i.Data = data
	b.handleInteraction(i)

	if len(api.followups) != 1 || api.followups[0].Content != msgUnknownTheme {
		t.Errorf("followups = %+v", api.followups)
	}
}

func TestComponentNavigation(t *testing.T) {
	b, api := newTestBot(&fakeLoader{})
	defer b.Stop()
	s := b.sessions.Create("owner", testutil.SampleMeta(), testutil.SampleReplay(), models.ThemeNormal)

	b.handleInteraction(press("owner", s.ID, actionPrev))
	if resp := api.lastResponse(t); resp.Type != discordgo.InteractionResponseDeferredMessageUpdate {
		t.Errorf("prev at turn 0 answered with %v", resp.Type)
	}

	b.handleInteraction(press("owner", s.ID, actionNext))
	resp := api.lastResponse(t)
	if resp.Type != discordgo.InteractionResponseUpdateMessage {
		t.Fatalf("next answered with %v", resp.Type)
	}
	if s.Cursor != 1 {
		t.Errorf("cursor = %d", s.Cursor)
	}
	if got := resp.Data.Embeds[0].Title; got != "[Gen 3] OU: Ash vs. Gary" {
		t.Errorf("summary title = %q", got)
	}
	if got := buttons(t, resp.Data.Components)[actionCounter].Label; got != "Turn 1/2" {
		t.Errorf("counter = %q", got)
	}

	b.handleInteraction(press("owner", s.ID, actionLast))
	if s.Cursor != 2 {
		t.Errorf("last moved cursor to %d", s.Cursor)
	}
	b.handleInteraction(press("owner", s.ID, actionSwap))
	if s.Active != viewer.ViewpointB {
		t.Error("swap did not change viewpoint")
	}
	b.handleInteraction(press("owner", s.ID, actionFirst))
	if s.Cursor != 0 {
		t.Errorf("first moved cursor to %d", s.Cursor)
	}
}

func TestComponentRejectsStrangerAndUnknownSession(t *testing.T) {
	b, api := newTestBot(&fakeLoader{})
	defer b.Stop()
	s := b.sessions.Create("owner", testutil.SampleMeta(), testutil.SampleReplay(), models.ThemeNormal)

	b.handleInteraction(press("stranger", s.ID, actionNext))
	resp := api.lastResponse(t)
	if resp.Type != discordgo.InteractionResponseChannelMessageWithSource || resp.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Errorf("stranger got %+v", resp)
	}
	if !strings.Contains(resp.Data.Content, "<@owner>") {
		t.Errorf("rejection does not name the owner: %q", resp.Data.Content)
	}
	if s.Cursor != 0 {
		t.Error("stranger moved the cursor")
	}

	b.handleInteraction(press("owner", "gone", actionNext))
	if got := api.lastResponse(t).Data.Content; got != msgExpired {
		t.Errorf("unknown session answered %q", got)
	}

	before := len(api.responses)
	b.handleInteraction(&discordgo.Interaction{
		Type:   discordgo.InteractionMessageComponent,
		Member: member("owner"),
		Data:   discordgo.MessageComponentInteractionData{CustomID: "someone-elses-button"},
	})
	if len(api.responses) != before {
		t.Error("foreign component was answered")
	}
}

func TestGotoOpensModalAndJumps(t *testing.T) {
	b, api := newTestBot(&fakeLoader{})
	defer b.Stop()
	s := b.sessions.Create("owner", testutil.SampleMeta(), testutil.SampleReplay(), models.ThemeNormal)

	b.handleInteraction(press("owner", s.ID, actionGoto))
	resp := api.lastResponse(t)
	if resp.Type != discordgo.InteractionResponseModal || resp.Data.CustomID != customID(s.ID, actionGoto) {
		t.Fatalf("goto answered with %+v", resp)
	}

	tests := []struct {
		value    string
		wantType discordgo.InteractionResponseType
		wantText string
		cursor   int
	}{
		{"abc", discordgo.InteractionResponseChannelMessageWithSource, msgInvalidTurn, 0},
		{"9", discordgo.InteractionResponseChannelMessageWithSource, "Please enter a number only between 0 to 2", 0},
		{"0", discordgo.InteractionResponseDeferredMessageUpdate, "", 0},
		{"2", discordgo.InteractionResponseUpdateMessage, "", 2},
	}
	for _, tt := range tests {
		b.handleInteraction(submitTurn("owner", s.ID, tt.value))
		resp := api.lastResponse(t)
		if resp.Type != tt.wantType {
			t.Errorf("submit %q answered with %v, want %v", tt.value, resp.Type, tt.wantType)
		}
		if tt.wantText != "" && (resp.Data == nil || resp.Data.Content != tt.wantText) {
			t.Errorf("submit %q message = %+v", tt.value, resp.Data)
		}
		if s.Cursor != tt.cursor {
			t.Errorf("submit %q left cursor at %d, want %d", tt.value, s.Cursor, tt.cursor)
		}
	}
}

func TestIdleViewerIsFrozen(t *testing.T) {
	b, api := newTestBot(&fakeLoader{}, WithIdleTimeout(30*time.Millisecond))
	defer b.Stop()

	b.handleInteraction(replayCommand("owner", testutil.SampleReplayURL))

	deadline := time.Now().Add(2 * time.Second)
	for api.editCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if api.editCount() != 1 {
		t.Fatalf("expected one freeze edit, got %d", api.editCount())
	}
	api.mu.Lock()
	edit := api.edits[0]
	api.mu.Unlock()
	if edit.ID != "msg-2" || edit.Channel != "chan" {
		t.Errorf("edited %s/%s", edit.Channel, edit.ID)
	}
	for action, btn := range buttons(t, *edit.Components) {
		if !btn.Disabled {
			t.Errorf("%s still enabled after expiry", action)
		}
	}
	if b.sessions.Len() != 0 {
		t.Error("expired session still registered")
	}
}

func TestPing(t *testing.T) {
	b, api := newTestBot(&fakeLoader{})
	defer b.Stop()

	b.handleInteraction(&discordgo.Interaction{
		Type:   discordgo.InteractionApplicationCommand,
		Member: member("owner"),
		Data:   discordgo.ApplicationCommandInteractionData{Name: commandPing},
	})
	if got := api.lastResponse(t).Data.Content; !strings.Contains(got, "42ms") {
		t.Errorf("ping answered %q", got)
	}
}

func TestUserMessage(t *testing.T) {
	if _, unexpected := userMessage(errors.New("mystery")); !unexpected {
		t.Error("unknown errors must reach operators")
	}
	if msg, unexpected := userMessage(fmt.Errorf("wrap: %w", models.ErrScrapeTimeout)); msg != msgScrapeTimeout || unexpected {
		t.Errorf("timeout mapped to %q, %v", msg, unexpected)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(&fakeLoader{}); !errors.Is(err, ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
}
