package bot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/BTreeMap/ReplayPipe/internal/battlelog"
	"github.com/BTreeMap/ReplayPipe/internal/viewer"
)

// Embed colours.
const (
	summaryColor = 0xEB459E
	turnColor    = 0xF1C40F
)

// maxEmbedDescription is Discord's limit on an embed description, in characters.
const maxEmbedDescription = 4096

const emptyTurnText = "_No battle text for this turn._"

// Control actions carried in component custom IDs.
const (
	actionPrev    = "prev"
	actionNext    = "next"
	actionFirst   = "first"
	actionLast    = "last"
	actionGoto    = "goto"
	actionSwap    = "swap"
	actionCounter = "counter"
)

const (
	customIDPrefix    = "replay"
	customIDSeparator = ":"
	turnInputID       = "turn"
)

// customID builds "replay:<session>:<action>".
func customID(sessionID, action string) string {
	return strings.Join([]string{customIDPrefix, sessionID, action}, customIDSeparator)
}

// parseCustomID splits a custom ID built by customID.
func parseCustomID(id string) (sessionID, action string, ok bool) {
	parts := strings.Split(id, customIDSeparator)
	if len(parts) != 3 || parts[0] != customIDPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// renderEmbeds builds the summary panel and the turn panel for a session.
func renderEmbeds(s *viewer.Session) []*discordgo.MessageEmbed {
	st := s.Snapshot()
	meta := s.Meta

	summary := &discordgo.MessageEmbed{
		Title:       st.SummaryTitle,
		URL:         meta.URL,
		Description: truncate(st.SummaryBody, maxEmbedDescription),
		Color:       summaryColor,
	}
	if meta.Rating > 0 {
		summary.Fields = append(summary.Fields, inlineField("Rating", strconv.Itoa(meta.Rating)))
	}
	summary.Fields = append(summary.Fields,
		inlineField("Views", strconv.Itoa(meta.Views)),
		inlineField("Uploaded", fmt.Sprintf("<t:%d:f>", meta.UploadTime)),
		inlineField("Winner", spoiler(winnerLabel(s))),
	)

	text := st.Text
	if strings.TrimSpace(text) == "" {
		text = emptyTurnText
	}
	turn := &discordgo.MessageEmbed{
		Description: truncate(text, maxEmbedDescription),
		Color:       turnColor,
	}
	if st.Sprites.Player != "" {
		turn.Image = &discordgo.MessageEmbedImage{URL: st.Sprites.Player}
	}
	if st.Sprites.Opponent != "" {
		turn.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: st.Sprites.Opponent}
	}
	if st.Frozen {
		turn.Footer = &discordgo.MessageEmbedFooter{Text: "This viewer has expired. Run /replay again to keep watching."}
	}
	return []*discordgo.MessageEmbed{summary, turn}
}

// renderControls lays out the two button rows. Enablement is read from the
// session state, never from the previous message.
func renderControls(s *viewer.Session) []discordgo.MessageComponent {
	st := s.Snapshot()
	id := st.SessionID
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			emojiButton(customID(id, actionPrev), "◀️", "", !st.CanGoBack),
			discordgo.Button{
				CustomID: customID(id, actionCounter),
				Label:    st.TurnLabel,
				Style:    discordgo.PrimaryButton,
				Disabled: true,
			},
			emojiButton(customID(id, actionNext), "▶️", "", !st.CanGoForward),
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			emojiButton(customID(id, actionFirst), "⏮️", "", !st.CanGoBack),
			emojiButton(customID(id, actionGoto), "🔢", "Go To Turn", st.Frozen),
			emojiButton(customID(id, actionLast), "⏭️", "", !st.CanGoForward),
			emojiButton(customID(id, actionSwap), "🔀", truncate(st.SwapLabel, 80), st.Frozen),
		}},
	}
}

// turnModal is the go-to-turn prompt.
func turnModal(s *viewer.Session) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{
		CustomID: customID(s.ID, actionGoto),
		Title:    "Jump to any turn",
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.TextInput{
					CustomID:    turnInputID,
					Label:       "Enter Turn Number:",
					Style:       discordgo.TextInputShort,
					Placeholder: fmt.Sprintf("Only from 0 to %d", s.TotalTurns()),
					MaxLength:   6,
				},
			}},
		},
	}
}

// modalValue returns the value of the text input with the given custom ID.
func modalValue(data discordgo.ModalSubmitInteractionData, inputID string) string {
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok && input.CustomID == inputID {
				return input.Value
			}
		}
	}
	return ""
}

func emojiButton(id, emoji, label string, disabled bool) discordgo.Button {
	return discordgo.Button{
		CustomID: id,
		Label:    label,
		Style:    discordgo.SecondaryButton,
		Disabled: disabled,
		Emoji:    &discordgo.ComponentEmoji{Name: emoji},
	}
}

func inlineField(name, value string) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: true}
}

func winnerLabel(s *viewer.Session) string {
	if w := battlelog.Winner(s.Replay.TurnsA, s.Meta.P1(), s.Meta.P2()); w != "" {
		return w
	}
	return "Unknown"
}

func spoiler(s string) string {
	return "||" + s + "||"
}

// truncate shortens s to at most n characters, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}
