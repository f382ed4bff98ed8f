// Package gb is the host-facing surface of the emulator core: a single
// Machine handle that owns the cartridge, memory map, and CPU, and exposes
// the stable ROM-loading, stepping, input, video, and audio operations a
// host embedder drives the core with.
package gb

import (
	"bytes"
	"encoding/gob"

	"github.com/fenrir-emu/goboy/internal/cart"
	"github.com/fenrir-emu/goboy/internal/cpu"
	"github.com/fenrir-emu/goboy/internal/joypad"
	"github.com/fenrir-emu/goboy/internal/mem"
)

// Button enumerates the eight joypad inputs. Values are part of the
// stable ABI: Right=0, Left=1, Up=2, Down=3, A=4, B=5, Select=6, Start=7.
type Button int

const (
	ButtonRight Button = iota
	ButtonLeft
	ButtonUp
	ButtonDown
	ButtonA
	ButtonB
	ButtonSelect
	ButtonStart
)

const audioBufCap = 1 << 14

// Machine is an opaque handle onto one running Game Boy / Game Boy Color
// instance. The zero value is not usable; construct with New.
type Machine struct {
	mem *mem.Memory
	cpu *cpu.CPU

	title      string
	cartType   byte
	cgbCapable bool

	rumble func(bool)

	leftBuf, rightBuf []int16
}

// New returns a Machine with no cartridge loaded. Call LoadROM before
// stepping it.
func New() *Machine {
	return &Machine{}
}

// Reset zeroes all machine state and drops the loaded cartridge, mirroring
// a fresh New() except that a previously registered rumble callback is
// preserved, since that's an environment binding rather than cartridge
// state.
func (m *Machine) Reset() {
	*m = Machine{rumble: m.rumble}
}

// LoadROM parses the cartridge header, selects the matching MBC, and
// brings up memory and CPU state as if the appropriate (DMG or CGB) boot
// ROM had just handed off execution at $0100. It returns an error only for
// a ROM too short to contain a header; an unrecognized cartridge-type byte
// falls back to ROM-only per cart.NewCartridge, matching real homebrew
// tolerance rather than failing the load.
func (m *Machine) LoadROM(rom []byte) error {
	header, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	c := cart.NewCartridge(rom)
	cgbCapable := header.CGBFlag&0x80 != 0

	m.mem = mem.New(c, cgbCapable)
	m.cpu = cpu.New(m.mem)
	if cgbCapable {
		m.cpu.ResetCGBNoBoot()
	} else {
		m.cpu.ResetNoBoot()
	}
	m.mem.ApplyPostBootIO()

	m.title = header.Title
	m.cartType = header.CartType
	m.cgbCapable = cgbCapable
	m.leftBuf, m.rightBuf = nil, nil

	if m.rumble != nil {
		m.wireRumble()
	}
	return nil
}

// SetRumbleFunc registers the callback invoked when an MBC5-rumble
// cartridge toggles its motor. Safe to call before or after LoadROM.
func (m *Machine) SetRumbleFunc(f func(bool)) {
	m.rumble = f
	if m.mem != nil {
		m.wireRumble()
	}
}

func (m *Machine) wireRumble() {
	if rc, ok := m.mem.Cart().(interface{ SetRumbleFunc(func(bool)) }); ok {
		rc.SetRumbleFunc(m.rumble)
	}
}

// ROMTitle returns the cartridge title from header bytes 0x134-0x143,
// trimmed of trailing NUL padding.
func (m *Machine) ROMTitle() string { return m.title }

// battery-equipped cartridge-type bytes, per cart.go's dispatch table.
func hasBatteryCartType(t byte) bool {
	switch t {
	case 0x03, 0x06, 0x0F, 0x10, 0x13, 0x1B, 0x1E:
		return true
	default:
		return false
	}
}

// SupportsSaving reports whether the loaded cartridge's type byte
// indicates a battery and the selected MBC actually implements
// cart.BatteryBacked.
func (m *Machine) SupportsSaving() bool {
	if m.mem == nil || !hasBatteryCartType(m.cartType) {
		return false
	}
	_, ok := m.mem.Cart().(cart.BatteryBacked)
	return ok
}

// BatteryBackedRAM returns a copy of the cartridge's persistent RAM (or
// MBC2's 512x4-bit on-chip RAM, one nibble per byte), or nil if the
// cartridge has none.
func (m *Machine) BatteryBackedRAM() []byte {
	if m.mem == nil {
		return nil
	}
	if bb, ok := m.mem.Cart().(cart.BatteryBacked); ok {
		return bb.SaveRAM()
	}
	return nil
}

// SetBatteryBackedRAM loads previously saved RAM bytes into the cartridge.
// A no-op if the cartridge has no persistent RAM.
func (m *Machine) SetBatteryBackedRAM(data []byte) {
	if m.mem == nil {
		return
	}
	if bb, ok := m.mem.Cart().(cart.BatteryBacked); ok {
		bb.LoadRAM(data)
	}
}

// StepCycles advances the CPU by at least n T-cycles (the conventional
// single-speed-equivalent unit, 4 per M-cycle, independent of CGB
// double-speed mode) and returns n minus the number actually consumed —
// zero or negative, since an instruction can overshoot the target; the
// caller carries the negative remainder into its next call.
func (m *Machine) StepCycles(n int) int {
	if m.cpu == nil {
		return n
	}
	start := m.mem.TCycles()
	for int64(m.mem.TCycles()-start) < int64(n) {
		m.cpu.Step()
	}
	consumed := int(m.mem.TCycles() - start)
	return n - consumed
}

// Pixels returns the last fully rendered frame as 160x144 RGBA8888. The
// slice is owned by the PPU and is overwritten in place on the next
// VBlank; callers that need to retain a frame must copy it.
func (m *Machine) Pixels() []byte {
	if m.mem == nil {
		return nil
	}
	return m.mem.PPU().Framebuffer()
}

func (m *Machine) setButton(b Button, pressed bool) {
	if m.mem == nil {
		return
	}
	j := m.mem.Joypad()
	switch b {
	case ButtonRight:
		j.SetDirection(joypad.Right, pressed)
	case ButtonLeft:
		j.SetDirection(joypad.Left, pressed)
	case ButtonUp:
		j.SetDirection(joypad.Up, pressed)
	case ButtonDown:
		j.SetDirection(joypad.Down, pressed)
	case ButtonA:
		j.SetAction(joypad.A, pressed)
	case ButtonB:
		j.SetAction(joypad.B, pressed)
	case ButtonSelect:
		j.SetAction(joypad.Select, pressed)
	case ButtonStart:
		j.SetAction(joypad.Start, pressed)
	}
}

// ButtonPress marks a button as held down.
func (m *Machine) ButtonPress(b Button) { m.setButton(b, true) }

// ButtonRelease marks a button as released.
func (m *Machine) ButtonRelease(b Button) { m.setButton(b, false) }

// fillAudioBuf drains stereo frames from the APU's ring buffer into the
// per-channel queues until at least `need` samples are queued on each
// side or the APU has nothing more buffered. Queues are capped at
// audioBufCap, dropping the oldest samples first, matching spec's
// overflow rule of discarding the oldest sample rather than blocking.
func (m *Machine) fillAudioBuf(need int) {
	if m.mem == nil {
		return
	}
	for len(m.leftBuf) < need {
		frames := m.mem.APU().PullStereo(256)
		if len(frames) == 0 {
			break
		}
		for i := 0; i+1 < len(frames); i += 2 {
			m.leftBuf = append(m.leftBuf, frames[i])
			m.rightBuf = append(m.rightBuf, frames[i+1])
		}
	}
	if over := len(m.leftBuf) - audioBufCap; over > 0 {
		m.leftBuf = m.leftBuf[over:]
	}
	if over := len(m.rightBuf) - audioBufCap; over > 0 {
		m.rightBuf = m.rightBuf[over:]
	}
}

// ReadLeftAudioChannel copies up to len(dst) left-channel samples into dst
// and returns the count copied.
func (m *Machine) ReadLeftAudioChannel(dst []int16) int {
	m.fillAudioBuf(len(dst))
	n := copy(dst, m.leftBuf)
	m.leftBuf = m.leftBuf[n:]
	return n
}

// ReadRightAudioChannel copies up to len(dst) right-channel samples into
// dst and returns the count copied.
func (m *Machine) ReadRightAudioChannel(dst []int16) int {
	m.fillAudioBuf(len(dst))
	n := copy(dst, m.rightBuf)
	m.rightBuf = m.rightBuf[n:]
	return n
}

// AllocUint8Array and FreeUint8Array exist for symmetry with host
// embedders built against the pointer+length ABI this package's
// operations are derived from; in Go, make and the garbage collector
// already do this job, so FreeUint8Array is a no-op.
func AllocUint8Array(n int) []byte { return make([]byte, n) }
func FreeUint8Array(_ []byte)      {}

type machineState struct {
	Title      string
	CartType   byte
	CGBCapable bool
	Mem        []byte
	CPU        []byte
}

// SaveState serializes the full machine state (cartridge banking and RAM,
// WRAM, PPU, APU, timer, joypad, and CPU registers) to a portable byte
// slice.
func (m *Machine) SaveState() []byte {
	if m.mem == nil || m.cpu == nil {
		return nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(machineState{
		Title: m.title, CartType: m.cartType, CGBCapable: m.cgbCapable,
		Mem: m.mem.SaveState(), CPU: m.cpu.SaveState(),
	})
	return buf.Bytes()
}

// LoadState restores machine state previously produced by SaveState. The
// cartridge ROM itself is not part of the snapshot; a compatible ROM must
// already be loaded via LoadROM before calling LoadState.
func (m *Machine) LoadState(data []byte) error {
	if m.mem == nil || m.cpu == nil {
		return errNoCartridge
	}
	var s machineState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return err
	}
	m.title, m.cartType, m.cgbCapable = s.Title, s.CartType, s.CGBCapable
	m.mem.LoadState(s.Mem)
	m.cpu.LoadState(s.CPU)
	return nil
}
