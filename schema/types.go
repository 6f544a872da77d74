package schema

// WobID identifies a wob (world object) on the game server.
type WobID int64

// Tag correlates commands issued by one client session with their echo in the event log.
type Tag string

// Token is the bearer token issued by the game server on login.
type Token string

// ThemeName identifies a terminal UI theme.
type ThemeName string

// DefaultTheme is the theme used when none is configured.
const DefaultTheme ThemeName = "phosphor"

// DefaultBufferMaxLines bounds the scrollback when no limit is configured.
const DefaultBufferMaxLines = 5000
