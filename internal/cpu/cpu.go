// Package cpu implements the Sharp SM83 CPU core: the full 256-entry base
// opcode table plus the 256-entry CB-prefixed table, interrupt dispatch,
// HALT (including the halt bug), STOP/double-speed, and the one
// instruction-delayed EI.
package cpu

import (
	"bytes"
	"encoding/gob"
)

// Bus is the minimal interface the CPU needs from the rest of the machine.
// Every Read/Write call already advances the whole system by one M-cycle
// (see internal/mem.Memory), which is what makes this CPU cycle-accurate:
// there is no separate end-of-instruction tick.
type Bus interface {
	Read(addr uint16) byte
	Write(addr uint16, value byte)
	PendingInterrupts() byte
	IE() byte
	ClearInterrupt(bit uint)
	DoubleSpeed() bool
	ArmSpeedSwitch() bool
}

const (
	flagZ byte = 1 << 7
	flagN byte = 1 << 6
	flagH byte = 1 << 5
	flagC byte = 1 << 4
)

type CPU struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16

	IME     bool
	eiDelay int // 2 at EI's own fetch, 1 after the next Step's dispatch, 0 -> IME set
	halted  bool
	haltBug bool
	stopped bool

	bus Bus
}

func New(b Bus) *CPU {
	return &CPU{bus: b, SP: 0xFFFE}
}

// ResetNoBoot sets the DMG post-boot-ROM register state directly, used when
// running without a boot ROM image.
func (c *CPU) ResetNoBoot() {
	c.A, c.F = 0x01, 0xB0
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP = 0xFFFE
	c.PC = 0x0100
}

// ResetCGBNoBoot mirrors ResetNoBoot for CGB hardware identification.
func (c *CPU) ResetCGBNoBoot() {
	c.A, c.F = 0x11, 0x80
	c.B, c.C = 0x00, 0x00
	c.D, c.E = 0xFF, 0x56
	c.H, c.L = 0x00, 0x0D
	c.SP = 0xFFFE
	c.PC = 0x0100
}

func (c *CPU) SetPC(pc uint16) { c.PC = pc }
func (c *CPU) Halted() bool    { return c.halted }
func (c *CPU) Stopped() bool   { return c.stopped }

func (c *CPU) flag(f byte) bool { return c.F&f != 0 }
func (c *CPU) setFlag(f byte, v bool) {
	if v {
		c.F |= f
	} else {
		c.F &^= f
	}
	c.F &= 0xF0 // low nibble is always zero
}

func (c *CPU) getAF() uint16  { return uint16(c.A)<<8 | uint16(c.F&0xF0) }
func (c *CPU) setAF(v uint16) { c.A = byte(v >> 8); c.F = byte(v) & 0xF0 }
func (c *CPU) getBC() uint16  { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) setBC(v uint16) { c.B = byte(v >> 8); c.C = byte(v) }
func (c *CPU) getDE() uint16  { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) setDE(v uint16) { c.D = byte(v >> 8); c.E = byte(v) }
func (c *CPU) getHL() uint16  { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) setHL(v uint16) { c.H = byte(v >> 8); c.L = byte(v) }

func (c *CPU) read8(addr uint16) byte     { return c.bus.Read(addr) }
func (c *CPU) write8(addr uint16, v byte) { c.bus.Write(addr, v) }

func (c *CPU) fetch8() byte {
	if c.haltBug {
		// The halt bug double-reads the byte after HALT: PC does not advance
		// on this one fetch.
		c.haltBug = false
		return c.read8(c.PC)
	}
	v := c.read8(c.PC)
	c.PC++
	return v
}

func (c *CPU) fetch16() uint16 {
	lo := c.fetch8()
	hi := c.fetch8()
	return uint16(hi)<<8 | uint16(lo)
}

func (c *CPU) read16(addr uint16) uint16 {
	lo := c.read8(addr)
	hi := c.read8(addr + 1)
	return uint16(hi)<<8 | uint16(lo)
}

func (c *CPU) write16(addr uint16, v uint16) {
	c.write8(addr, byte(v))
	c.write8(addr+1, byte(v>>8))
}

func (c *CPU) push16(v uint16) {
	c.SP--
	c.write8(c.SP, byte(v>>8))
	c.SP--
	c.write8(c.SP, byte(v))
}

func (c *CPU) pop16() uint16 {
	lo := c.read8(c.SP)
	c.SP++
	hi := c.read8(c.SP)
	c.SP++
	return uint16(hi)<<8 | uint16(lo)
}

// internalDelay burns one M-cycle with no architectural effect, used by
// instructions whose cycle count exceeds their memory accesses (internal
// ALU/address computation cycles on real hardware).
func (c *CPU) internalDelay() { c.bus.Read(c.PC) }

// --- 8-bit ALU ---

func (c *CPU) add8(a, b byte, carryIn bool) byte {
	var cin byte
	if carryIn {
		cin = 1
	}
	res16 := uint16(a) + uint16(b) + uint16(cin)
	res := byte(res16)
	c.setFlag(flagZ, res == 0)
	c.setFlag(flagN, false)
	c.setFlag(flagH, (a&0xF)+(b&0xF)+cin > 0xF)
	c.setFlag(flagC, res16 > 0xFF)
	return res
}

func (c *CPU) sub8(a, b byte, carryIn bool) byte {
	var cin byte
	if carryIn {
		cin = 1
	}
	res := a - b - cin
	c.setFlag(flagZ, res == 0)
	c.setFlag(flagN, true)
	c.setFlag(flagH, (int(a&0xF)-int(b&0xF)-int(cin)) < 0)
	c.setFlag(flagC, (int(a)-int(b)-int(cin)) < 0)
	return res
}

func (c *CPU) and8(a, b byte) byte {
	res := a & b
	c.setFlag(flagZ, res == 0)
	c.setFlag(flagN, false)
	c.setFlag(flagH, true)
	c.setFlag(flagC, false)
	return res
}

func (c *CPU) or8(a, b byte) byte {
	res := a | b
	c.setFlag(flagZ, res == 0)
	c.setFlag(flagN, false)
	c.setFlag(flagH, false)
	c.setFlag(flagC, false)
	return res
}

func (c *CPU) xor8(a, b byte) byte {
	res := a ^ b
	c.setFlag(flagZ, res == 0)
	c.setFlag(flagN, false)
	c.setFlag(flagH, false)
	c.setFlag(flagC, false)
	return res
}

func (c *CPU) cp8(a, b byte) { c.sub8(a, b, false) }

func (c *CPU) inc8(v byte) byte {
	res := v + 1
	c.setFlag(flagZ, res == 0)
	c.setFlag(flagN, false)
	c.setFlag(flagH, v&0xF == 0xF)
	return res
}

func (c *CPU) dec8(v byte) byte {
	res := v - 1
	c.setFlag(flagZ, res == 0)
	c.setFlag(flagN, true)
	c.setFlag(flagH, v&0xF == 0)
	return res
}

// getReg/setReg index one of the 8 register-index slots used by LD r,r' and
// the CB table: 0=B 1=C 2=D 3=E 4=H 5=L 6=(HL) 7=A.
func (c *CPU) getReg(i byte) byte {
	switch i {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 6:
		return c.read8(c.getHL())
	default:
		return c.A
	}
}

func (c *CPU) setReg(i byte, v byte) {
	switch i {
	case 0:
		c.B = v
	case 1:
		c.C = v
	case 2:
		c.D = v
	case 3:
		c.E = v
	case 4:
		c.H = v
	case 5:
		c.L = v
	case 6:
		c.write8(c.getHL(), v)
	default:
		c.A = v
	}
}

func (c *CPU) getRP(i byte) uint16 {
	switch i {
	case 0:
		return c.getBC()
	case 1:
		return c.getDE()
	case 2:
		return c.getHL()
	default:
		return c.SP
	}
}

func (c *CPU) setRP(i byte, v uint16) {
	switch i {
	case 0:
		c.setBC(v)
	case 1:
		c.setDE(v)
	case 2:
		c.setHL(v)
	default:
		c.SP = v
	}
}

func (c *CPU) condTrue(cc byte) bool {
	switch cc {
	case 0:
		return !c.flag(flagZ)
	case 1:
		return c.flag(flagZ)
	case 2:
		return !c.flag(flagC)
	default:
		return c.flag(flagC)
	}
}

var illegalOpcodes = map[byte]bool{
	0xD3: true, 0xDB: true, 0xDD: true, 0xE3: true, 0xE4: true,
	0xEB: true, 0xEC: true, 0xED: true, 0xF4: true, 0xFC: true, 0xFD: true,
}

// Step executes exactly one instruction (or services a pending interrupt,
// or spins one cycle while halted). All timing happens through
// Bus.Read/Write and internalDelay calls made along the way; Step itself
// returns nothing to time.
func (c *CPU) Step() {
	if c.eiDelay > 0 {
		c.eiDelay--
		if c.eiDelay == 0 {
			c.IME = true
		}
	}

	if c.serviceInterrupt() {
		return
	}

	if c.halted {
		c.bus.Read(c.PC)
		if c.bus.PendingInterrupts()&c.bus.IE()&0x1F != 0 {
			c.halted = false
		}
		return
	}

	op := c.fetch8()
	if illegalOpcodes[op] {
		return
	}
	if op == 0xCB {
		cb := c.fetch8()
		c.execCB(cb)
		return
	}
	c.exec(op)
}

// serviceInterrupt dispatches the highest-priority pending, IE-enabled
// interrupt if IME is set; HALT is woken by a pending interrupt regardless
// of IME (handled separately in the halted branch of Step).
func (c *CPU) serviceInterrupt() bool {
	pending := c.bus.PendingInterrupts() & c.bus.IE() & 0x1F
	if pending == 0 {
		return false
	}
	if !c.IME {
		return false
	}
	for bit := uint(0); bit < 5; bit++ {
		if pending&(1<<bit) != 0 {
			c.halted = false
			c.IME = false
			c.bus.ClearInterrupt(bit)
			c.internalDelay()
			c.internalDelay()
			c.push16(c.PC)
			c.PC = 0x40 + uint16(bit)*8
			return true
		}
	}
	return false
}

func (c *CPU) halt() {
	pending := c.bus.PendingInterrupts() & c.bus.IE() & 0x1F
	if !c.IME && pending != 0 {
		// The halt bug: the next fetch reads without advancing PC.
		c.haltBug = true
		return
	}
	c.halted = true
}

func (c *CPU) stop() {
	if c.bus.ArmSpeedSwitch() {
		return
	}
	c.stopped = true
}

type state struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME                    bool
	EiDelay                int
	Halted, HaltBug        bool
	Stopped                bool
}

func (c *CPU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := state{c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L, c.SP, c.PC, c.IME, c.eiDelay, c.halted, c.haltBug, c.stopped}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (c *CPU) LoadState(data []byte) {
	var s state
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L = s.A, s.F, s.B, s.C, s.D, s.E, s.H, s.L
	c.SP, c.PC = s.SP, s.PC
	c.IME, c.eiDelay, c.halted, c.haltBug, c.stopped = s.IME, s.EiDelay, s.Halted, s.HaltBug, s.Stopped
}
