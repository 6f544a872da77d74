package terminal

import (
	"bufio"
	"io"
	"unicode"
	"unicode/utf8"
)

type keyKind int

const (
	keyRune keyKind = iota
	keyEnter
	keyBackspace
	keyDelete
	keyLeft
	keyRight
	keyHome
	keyEnd
	keyPageUp
	keyPageDown
	keyCtrlA
	keyCtrlE
	keyCtrlW
	keyCtrlD
	keyCtrlC
	keyCtrlL
	keyTab
	keyAltB
	keyAltF
	keyUp
	keyDown
	keyCtrlU
	keyCtrlK
)

type key struct {
	kind keyKind
	r    rune
}

// readKeys decodes terminal input until r fails, then closes out.
func readKeys(r io.Reader, out chan<- key) {
	defer close(out)
	br := bufio.NewReader(r)
	lastWasCR := false
	for {
		b, err := br.ReadByte()
		if err != nil {
			return
		}
		if lastWasCR {
			lastWasCR = false
			if b == '\n' {
				continue
			}
		}
		switch b {
		case 0x1b:
			readEscape(br, out)
		case '\r':
			out <- key{kind: keyEnter}
			lastWasCR = true
		case '\n':
			out <- key{kind: keyEnter}
		case 0x7f, 0x08:
			out <- key{kind: keyBackspace}
		case 0x01:
			out <- key{kind: keyCtrlA}
		case 0x05:
			out <- key{kind: keyCtrlE}
		case 0x15:
			out <- key{kind: keyCtrlU}
		case 0x0b:
			out <- key{kind: keyCtrlK}
		case 0x0c:
			out <- key{kind: keyCtrlL}
		case 0x17:
			out <- key{kind: keyCtrlW}
		case 0x04:
			out <- key{kind: keyCtrlD}
		case 0x03:
			out <- key{kind: keyCtrlC}
		case 0x09:
			out <- key{kind: keyTab}
		case 0x10:
			out <- key{kind: keyUp}
		case 0x0e:
			out <- key{kind: keyDown}
		default:
			if b < utf8.RuneSelf {
				if b < 0x20 {
					continue
				}
				out <- key{kind: keyRune, r: rune(b)}
				continue
			}
			_ = br.UnreadByte()
			rn, _, err := br.ReadRune()
			if err != nil {
				return
			}
			out <- key{kind: keyRune, r: rn}
		}
	}
}

func readEscape(br *bufio.Reader, out chan<- key) {
	b, err := br.ReadByte()
	if err != nil {
		return
	}
	switch b {
	case '[':
		readCSI(br, out)
	case 'O':
		readSS3(br, out)
	case 'b', 'B':
		out <- key{kind: keyAltB}
	case 'f', 'F':
		out <- key{kind: keyAltF}
	}
}

func readCSI(br *bufio.Reader, out chan<- key) {
	seq := []byte{}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return
		}
		seq = append(seq, b)
		if b == '~' || unicode.IsLetter(rune(b)) {
			break
		}
		if len(seq) > 8 {
			return
		}
	}
	switch string(seq) {
	case "A":
		out <- key{kind: keyUp}
	case "B":
		out <- key{kind: keyDown}
	case "C":
		out <- key{kind: keyRight}
	case "D":
		out <- key{kind: keyLeft}
	case "H", "1~", "7~":
		out <- key{kind: keyHome}
	case "F", "4~", "8~":
		out <- key{kind: keyEnd}
	case "5~":
		out <- key{kind: keyPageUp}
	case "6~":
		out <- key{kind: keyPageDown}
	case "3~":
		out <- key{kind: keyDelete}
	case "1;3D", "1;5D":
		out <- key{kind: keyAltB}
	case "1;3C", "1;5C":
		out <- key{kind: keyAltF}
	}
}

func readSS3(br *bufio.Reader, out chan<- key) {
	b, err := br.ReadByte()
	if err != nil {
		return
	}
	switch b {
	case 'A':
		out <- key{kind: keyUp}
	case 'B':
		out <- key{kind: keyDown}
	case 'C':
		out <- key{kind: keyRight}
	case 'D':
		out <- key{kind: keyLeft}
	case 'H':
		out <- key{kind: keyHome}
	case 'F':
		out <- key{kind: keyEnd}
	}
}
