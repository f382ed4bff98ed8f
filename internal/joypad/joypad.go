// Package joypad implements the Game Boy's 8-button input matrix and its
// JOYP (FF00) register. Buttons are active-low throughout this package,
// matching the hardware: a set bit means "not pressed".
package joypad

import (
	"bytes"
	"encoding/gob"
)

const (
	Right byte = 1 << 0
	Left  byte = 1 << 1
	Up    byte = 1 << 2
	Down  byte = 1 << 3
	A     byte = 1 << 0
	B     byte = 1 << 1
	Select byte = 1 << 2
	Start  byte = 1 << 3
)

// Requester raises IF bit 4 (joypad) when a selected, previously-unpressed
// button becomes pressed.
type Requester func()

type Joypad struct {
	selNotDirs   bool // JOYP bit4: 1 = direction keys NOT selected
	selNotAction bool // JOYP bit5: 1 = action keys NOT selected

	dirs   byte // bits 0-3: Right,Left,Up,Down; 1 = released
	action byte // bits 0-3: A,B,Select,Start; 1 = released

	req Requester
}

func New(req Requester) *Joypad {
	return &Joypad{dirs: 0x0F, action: 0x0F, selNotDirs: true, selNotAction: true, req: req}
}

// Read returns the JOYP register: bits 6-7 always read 1, bits 4-5 reflect
// the select lines, and bits 0-3 are whichever nibble is selected (both
// ANDed together if both select lines are active, all-1s if neither is).
func (j *Joypad) Read() byte {
	nibble := byte(0x0F)
	if !j.selNotDirs {
		nibble &= j.dirs
	}
	if !j.selNotAction {
		nibble &= j.action
	}
	v := byte(0xC0) | nibble
	if j.selNotDirs {
		v |= 0x10
	}
	if j.selNotAction {
		v |= 0x20
	}
	return v
}

func (j *Joypad) Write(value byte) {
	j.selNotDirs = value&0x10 != 0
	j.selNotAction = value&0x20 != 0
}

// SetButton updates one button's pressed state (pressed=true clears its
// bit) and raises the joypad interrupt on a released->pressed transition
// of a currently-selected button, per real hardware's "any selected bit
// falls" behavior.
func (j *Joypad) SetButton(group byte, mask byte, pressed bool) {
	var cur *byte
	var selected bool
	switch group {
	case groupDirs:
		cur = &j.dirs
		selected = !j.selNotDirs
	case groupAction:
		cur = &j.action
		selected = !j.selNotAction
	default:
		return
	}
	was := *cur&mask != 0 // true = was released
	if pressed {
		*cur &^= mask
	} else {
		*cur |= mask
	}
	if pressed && was && selected && j.req != nil {
		j.req()
	}
}

const (
	groupDirs = iota
	groupAction
)

// SetDirection sets one or more of Right/Left/Up/Down.
func (j *Joypad) SetDirection(mask byte, pressed bool) { j.SetButton(groupDirs, mask, pressed) }

// SetAction sets one or more of A/B/Select/Start.
func (j *Joypad) SetAction(mask byte, pressed bool) { j.SetButton(groupAction, mask, pressed) }

type state struct {
	SelNotDirs   bool
	SelNotAction bool
	Dirs         byte
	Action       byte
}

func (j *Joypad) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(state{j.selNotDirs, j.selNotAction, j.dirs, j.action})
	return buf.Bytes()
}

func (j *Joypad) LoadState(data []byte) {
	var s state
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	j.selNotDirs, j.selNotAction, j.dirs, j.action = s.SelNotDirs, s.SelNotAction, s.Dirs, s.Action
}
