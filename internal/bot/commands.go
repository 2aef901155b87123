package bot

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/mdp/qrterminal/v3"

	"github.com/BTreeMap/ReplayPipe/internal/models"
)

const (
	commandReplay = "replay"
	commandPing   = "ping"

	optionURL   = "url"
	optionTheme = "theme"
)

// invitePermissions grants Send Messages and Embed Links.
const invitePermissions = discordgo.PermissionSendMessages | discordgo.PermissionEmbedLinks

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        commandReplay,
		Description: "View ps replays onto discord!",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionURL,
				Description: "Enter showdown replay link",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        optionTheme,
				Description: "How the replay is presented",
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "🔴 Normal (default)", Value: string(models.ThemeNormal)},
					{Name: "🟢 Compact", Value: string(models.ThemeSimple)},
					{Name: "🔵 Pixel", Value: string(models.ThemePixel)},
				},
			},
		},
	},
	{
		Name:        commandPing,
		Description: "Check that ReplayPipe is online",
	},
}

// replayCommandOptions extracts the url and theme options, defaulting the theme.
func replayCommandOptions(data discordgo.ApplicationCommandInteractionData) (string, models.Theme) {
	var rawURL string
	theme := models.DefaultTheme
	for _, opt := range data.Options {
		if opt.Type != discordgo.ApplicationCommandOptionString {
			continue
		}
		switch opt.Name {
		case optionURL:
			rawURL = strings.TrimSpace(opt.StringValue())
		case optionTheme:
			if v := strings.TrimSpace(opt.StringValue()); v != "" {
				theme = models.Theme(v)
			}
		}
	}
	return rawURL, theme
}

// InviteURL returns the OAuth2 link that adds the bot and its commands to a server.
func InviteURL(applicationID string) string {
	return fmt.Sprintf("https://discord.com/oauth2/authorize?client_id=%s&scope=bot%%20applications.commands&permissions=%d",
		applicationID, invitePermissions)
}

func printInviteQR(w io.Writer, applicationID string) {
	link := InviteURL(applicationID)
	slog.Info("Bot invite link", "url", link)
	fmt.Fprintln(w, "Scan to add ReplayPipe to a server:", link)
	qrterminal.GenerateHalfBlock(link, qrterminal.L, w)
}
