package terminal

import (
	"fmt"
	"strings"
)

type loginStep int

const (
	loginStepName loginStep = iota
	loginStepPassword
)

type loginState struct {
	step loginStep
	name string
}

func (l *loginState) prompt() string {
	if l == nil {
		return ""
	}
	switch l.step {
	case loginStepName:
		return "login: "
	case loginStepPassword:
		return "password: "
	default:
		return "> "
	}
}

func (s *Session) startLogin(name string) {
	if s.backend == nil || s.tokens == nil {
		s.appendError(fmt.Errorf("login unavailable"))
		return
	}
	s.log.Info("tui login start")
	s.login = &loginState{step: loginStepName}
	s.editor.Clear()
	if name != "" {
		s.login.name = name
		s.login.step = loginStepPassword
		s.editor.SetMask('*')
	}
}

func (s *Session) cancelLogin() {
	if s.login == nil {
		return
	}
	s.log.Info("tui login cancel")
	s.login = nil
	s.editor.Clear()
	s.editor.ClearMask()
	s.appendNotice("login cancelled")
}

func (s *Session) submitLoginField() {
	if s.login == nil {
		return
	}
	value := s.editor.Command()
	s.editor.Clear()
	switch s.login.step {
	case loginStepName:
		name := strings.TrimSpace(value)
		if name == "" {
			s.cancelLogin()
			return
		}
		s.login.name = name
		s.login.step = loginStepPassword
		s.editor.SetMask('*')
	case loginStepPassword:
		name := s.login.name
		s.login = nil
		s.editor.ClearMask()
		s.authenticate(name, value)
	}
}

// authenticate exchanges credentials for a token, keeps it and wakes the
// stream so polling resumes with the new identity.
func (s *Session) authenticate(name, password string) {
	s.appendNotice("logging in as " + name)
	go func() {
		token, err := s.backend.Login(s.ctx, name, password)
		s.post(func() {
			if err != nil {
				s.log.Warn("tui login failed", "err", err)
				s.appendError(fmt.Errorf("login failed: %w", err))
				return
			}
			if err := s.tokens.Keep(token); err != nil {
				s.appendError(fmt.Errorf("token not saved: %w", err))
			}
			if s.info != nil {
				s.info.Reset()
			}
			s.setStatus("logged in as "+name, false)
			s.appendNotice("logged in as " + name)
			s.log.Info("tui login", "login", name)
			s.stream.RetryNow()
		})
	}()
}

func (s *Session) handleLoginKey(k key) bool {
	switch k.kind {
	case keyCtrlC:
		s.cancelLogin()
	case keyEnter:
		s.submitLoginField()
	case keyCtrlA, keyHome:
		s.editor.MoveStart()
	case keyCtrlE, keyEnd:
		s.editor.MoveEnd()
	case keyAltB:
		s.editor.MoveWordLeft()
	case keyAltF:
		s.editor.MoveWordRight()
	case keyCtrlW:
		s.editor.DeleteLeftWord()
	case keyCtrlU:
		s.editor.DeleteToStart()
	case keyCtrlK:
		s.editor.DeleteToEnd()
	case keyLeft:
		s.editor.Move(-1)
	case keyRight:
		s.editor.Move(1)
	case keyBackspace:
		s.editor.Backspace()
	case keyDelete:
		s.editor.ForwardDelete()
	case keyRune:
		s.editor.Insert(k.r)
	case keyTab, keyUp, keyDown, keyPageUp, keyPageDown, keyCtrlD, keyCtrlL:
		// Ignore navigation keys during credential entry.
	}
	s.dirty = true
	return false
}
