package terminal

import (
	"strconv"

	"pkt.systems/wobterm/internal/scrollback"
	"pkt.systems/wobterm/schema"
)

type rgb struct {
	r int
	g int
	b int
}

type tuiTheme struct {
	Name      schema.ThemeName
	StatusBG  rgb
	StatusFG  rgb
	WarnFG    rgb
	OutputFG  rgb
	CommandFG rgb
	ErrorFG   rgb
	DebugFG   rgb
	MoveFG    rgb
	WobFG     rgb
	ImageFG   rgb
	PromptFG  rgb
	TimeFG    rgb
	NoticeFG  rgb
	MoreFG    rgb
}

const (
	ansiReset     = "\x1b[0m"
	ansiBold      = "\x1b[1m"
	ansiDim       = "\x1b[2m"
	ansiItalic    = "\x1b[3m"
	ansiUnderline = "\x1b[4m"
)

var tuiThemes = map[schema.ThemeName]tuiTheme{
	"phosphor": {
		Name:      "phosphor",
		StatusBG:  rgb{r: 10, g: 40, b: 18},
		StatusFG:  rgb{r: 140, g: 255, b: 160},
		WarnFG:    rgb{r: 255, g: 196, b: 64},
		OutputFG:  rgb{r: 120, g: 235, b: 140},
		CommandFG: rgb{r: 200, g: 255, b: 210},
		ErrorFG:   rgb{r: 255, g: 107, b: 107},
		DebugFG:   rgb{r: 70, g: 130, b: 84},
		MoveFG:    rgb{r: 180, g: 255, b: 120},
		WobFG:     rgb{r: 90, g: 255, b: 220},
		ImageFG:   rgb{r: 150, g: 200, b: 255},
		PromptFG:  rgb{r: 255, g: 255, b: 255},
		TimeFG:    rgb{r: 60, g: 120, b: 72},
		NoticeFG:  rgb{r: 160, g: 200, b: 170},
		MoreFG:    rgb{r: 255, g: 196, b: 64},
	},
	"gruvbox": {
		Name:      "gruvbox",
		StatusBG:  rgb{r: 60, g: 56, b: 54},
		StatusFG:  rgb{r: 235, g: 219, b: 178},
		WarnFG:    rgb{r: 250, g: 189, b: 47},
		OutputFG:  rgb{r: 235, g: 219, b: 178},
		CommandFG: rgb{r: 250, g: 189, b: 47},
		ErrorFG:   rgb{r: 251, g: 73, b: 52},
		DebugFG:   rgb{r: 146, g: 131, b: 116},
		MoveFG:    rgb{r: 184, g: 187, b: 38},
		WobFG:     rgb{r: 131, g: 165, b: 152},
		ImageFG:   rgb{r: 211, g: 134, b: 155},
		PromptFG:  rgb{r: 255, g: 255, b: 255},
		TimeFG:    rgb{r: 146, g: 131, b: 116},
		NoticeFG:  rgb{r: 168, g: 153, b: 132},
		MoreFG:    rgb{r: 214, g: 93, b: 14},
	},
	"tokyo-midnight": {
		Name:      "tokyo-midnight",
		StatusBG:  rgb{r: 26, g: 27, b: 38},
		StatusFG:  rgb{r: 192, g: 202, b: 245},
		WarnFG:    rgb{r: 224, g: 175, b: 104},
		OutputFG:  rgb{r: 192, g: 202, b: 245},
		CommandFG: rgb{r: 122, g: 162, b: 247},
		ErrorFG:   rgb{r: 247, g: 118, b: 142},
		DebugFG:   rgb{r: 86, g: 95, b: 137},
		MoveFG:    rgb{r: 158, g: 206, b: 106},
		WobFG:     rgb{r: 125, g: 207, b: 255},
		ImageFG:   rgb{r: 187, g: 154, b: 247},
		PromptFG:  rgb{r: 255, g: 255, b: 255},
		TimeFG:    rgb{r: 86, g: 95, b: 137},
		NoticeFG:  rgb{r: 127, g: 133, b: 163},
		MoreFG:    rgb{r: 224, g: 175, b: 104},
	},
}

func themeForName(name schema.ThemeName) tuiTheme {
	if name == "" {
		name = schema.DefaultTheme
	}
	if theme, ok := tuiThemes[name]; ok {
		return theme
	}
	return tuiThemes[schema.DefaultTheme]
}

// styleFor maps a chunk style to its escape prefix.
func (t tuiTheme) styleFor(style string) string {
	switch style {
	case string(schema.EventCommand), scrollback.StyleEcho:
		return ansiFgRGB(t.CommandFG)
	case string(schema.EventError), string(schema.EventParseError), string(schema.EventScriptError):
		return ansiFgRGB(t.ErrorFG)
	case string(schema.EventDebug):
		return ansiDim + ansiFgRGB(t.DebugFG)
	case string(schema.EventMoveNotification):
		return ansiBold + ansiFgRGB(t.MoveFG)
	case scrollback.StyleWob:
		return ansiUnderline + ansiFgRGB(t.WobFG)
	case scrollback.StyleImage:
		return ansiItalic + ansiFgRGB(t.ImageFG)
	case scrollback.StylePrompt:
		return ansiBold + ansiFgRGB(t.PromptFG)
	case styleNotice:
		return ansiItalic + ansiFgRGB(t.NoticeFG)
	default:
		return ansiFgRGB(t.OutputFG)
	}
}

func ansiFgRGB(c rgb) string {
	return "\x1b[38;2;" + strconv.Itoa(c.r) + ";" + strconv.Itoa(c.g) + ";" + strconv.Itoa(c.b) + "m"
}

func ansiBgRGB(c rgb) string {
	return "\x1b[48;2;" + strconv.Itoa(c.r) + ";" + strconv.Itoa(c.g) + ";" + strconv.Itoa(c.b) + "m"
}
