package terminal

import (
	"fmt"
	"strings"

	"pkt.systems/wobterm/internal/logx"
	"pkt.systems/wobterm/schema"
)

var helpLines = []string{
	"/login [name]    log in; the password is read without echo",
	"/logout          forget the session token",
	"/admin <command> run a command with admin privileges",
	"/wob <id>        show a wob's description, verbs and properties",
	"/debug [on|off]  toggle display of debug events",
	"/quit            leave",
}

// handleCommand runs a slash command. It reports whether the session
// should end.
func (s *Session) handleCommand(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	s.log.Debug("tui command", "command", name)
	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		s.log.Info("tui exit", "reason", "command", "input", name)
		return true
	case "/help", "/?":
		for _, help := range helpLines {
			s.appendNotice(help)
		}
	case "/login":
		s.startLogin(arg)
	case "/logout":
		s.logout()
	case "/debug":
		s.toggleDebug(arg)
	case "/admin":
		if arg == "" {
			s.appendError(fmt.Errorf("usage: /admin <command>"))
			return false
		}
		s.execute(arg, true)
	case "/wob":
		s.showWob(arg)
	default:
		s.log.Warn("tui command unknown", "input", name)
		s.appendError(fmt.Errorf("unknown command %s, /help lists commands", name))
	}
	return false
}

func (s *Session) toggleDebug(arg string) {
	show := !s.renderer.ShowDebug()
	switch strings.ToLower(arg) {
	case "on", "true", "1":
		show = true
	case "off", "false", "0":
		show = false
	}
	s.renderer.SetShowDebug(show)
	if show {
		s.appendNotice("debug output on")
		return
	}
	s.appendNotice("debug output off")
}

func (s *Session) logout() {
	if s.tokens == nil {
		s.appendError(fmt.Errorf("logout unavailable"))
		return
	}
	s.tokens.Invalidate()
	if s.info != nil {
		s.info.Reset()
	}
	s.setStatus("not logged in", true)
	s.appendNotice("logged out")
	s.log.Info("tui logout")
}

// showWob prints the hydrated detail of a wob.
func (s *Session) showWob(arg string) {
	if s.info == nil {
		s.appendError(fmt.Errorf("wob lookup unavailable"))
		return
	}
	id, err := schema.NormalizeWobID(arg)
	if err != nil {
		s.appendError(fmt.Errorf("usage: /wob <id>: %w", err))
		return
	}
	go func() {
		info, err := s.info.Info(s.ctx, id)
		s.post(func() {
			if err != nil {
				s.appendError(err)
				return
			}
			s.appendWobInfo(info)
		})
	}()
}

func (s *Session) appendWobInfo(info schema.WobInfo) {
	logx.WithWob(s.log, info.ID).Trace("tui wob shown")
	s.appendNotice(fmt.Sprintf("#%d %s", info.ID, info.Name))
	if info.Desc != "" {
		s.appendNotice(info.Desc)
	}
	if verbs := info.VerbNames(); len(verbs) > 0 {
		s.appendNotice("verbs: " + strings.Join(verbs, ", "))
	}
	if len(info.Properties) > 0 {
		names := make([]string, 0, len(info.Properties))
		for _, prop := range info.Properties {
			names = append(names, prop.Name)
		}
		s.appendNotice("properties: " + strings.Join(names, ", "))
	}
}
