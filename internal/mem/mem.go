// Package mem implements the Game Boy's unified memory map: cartridge
// ROM/RAM banking, work RAM (with the CGB's 8-bank SVBK switch), high RAM,
// the boot ROM overlay, OAM DMA, CGB general-purpose/H-Blank VRAM DMA, and
// I/O register dispatch to the PPU, APU, timer, and joypad. Every Read and
// Write advances the whole machine by one M-cycle before the CPU observes
// the result, via Tick.
package mem

import (
	"bytes"
	"encoding/gob"

	"github.com/fenrir-emu/goboy/internal/apu"
	"github.com/fenrir-emu/goboy/internal/cart"
	"github.com/fenrir-emu/goboy/internal/joypad"
	"github.com/fenrir-emu/goboy/internal/ppu"
	"github.com/fenrir-emu/goboy/internal/timer"
)

// InterruptKind identifies one of the five interrupt sources, in priority order.
type InterruptKind int

const (
	IntVBlank InterruptKind = iota
	IntSTAT
	IntTimer
	IntSerial
	IntJoypad
)

// SerialWriter receives a byte shifted out over the serial port when the
// internal clock is selected (SC bit0=1, bit7=1): a host can use this to
// observe test-ROM diagnostic output (Blargg-style "Passed"/"Failed" text).
type SerialWriter func(b byte)

type Memory struct {
	cart cart.Cartridge

	wram      [8][0x1000]byte // CGB: 8 swappable 4KiB banks at 0xD000-0xDFFF; bank0 fixed at 0xC000-0xCFFF
	wramBank  byte            // SVBK, 1-7 (0 coerced to 1)
	hram      [0x7F]byte
	ie        byte

	ppu *ppu.PPU
	apu *apu.APU
	tim *timer.Timer
	joy *joypad.Joypad

	ifReg byte

	bootROM    []byte // 0x100 (DMG) or 0x900 (CGB, with the 0x100-0x1FF hole skipped)
	bootActive bool
	cgb        bool

	doubleSpeed  bool
	speedSwitchArmed bool

	// OAM DMA
	dmaActive bool
	dmaSrc    uint16
	dmaPos    int

	// CGB VRAM DMA (HDMA)
	hdmaSrc, hdmaDst uint16
	hdmaLen          int // remaining bytes/0x10 blocks, -1 when idle
	hdmaHBlankMode   bool

	vbk byte // VRAM bank select (CGB)

	sb, sc  byte // serial data/control
	serialW SerialWriter

	tCycles uint64 // host-visible T-cycle count, speed-independent (4 per M-cycle)
}

func New(c cart.Cartridge, cgb bool) *Memory {
	m := &Memory{cart: c, cgb: cgb, wramBank: 1, hdmaLen: -1}
	m.ppu = ppu.New(func(bit int) { m.requestPPU(bit) })
	m.ppu.SetCGBMode(cgb)
	m.ppu.SetHBlankHook(m.StepHDMABlock)
	m.apu = apu.New(apu.DefaultSampleRate)
	m.tim = timer.New(func() { m.Request(IntTimer) })
	m.joy = joypad.New(func() { m.Request(IntJoypad) })
	return m
}

func (m *Memory) requestPPU(bit int) {
	switch bit {
	case 0:
		m.Request(IntVBlank)
	case 1:
		m.Request(IntSTAT)
	}
}

func (m *Memory) Request(k InterruptKind) { m.ifReg |= 1 << uint(k) }

func (m *Memory) PendingInterrupts() byte { return m.ifReg & 0x1F }
func (m *Memory) IE() byte                { return m.ie }
func (m *Memory) ClearInterrupt(bit uint) { m.ifReg &^= 1 << bit }

func (m *Memory) PPU() *ppu.PPU    { return m.ppu }
func (m *Memory) APU() *apu.APU    { return m.apu }
func (m *Memory) Cart() cart.Cartridge { return m.cart }
func (m *Memory) SetSerialWriter(f SerialWriter) { m.serialW = f }
func (m *Memory) Joypad() *joypad.Joypad         { return m.joy }

func (m *Memory) SetBootROM(data []byte) {
	m.bootROM = data
	m.bootActive = len(data) > 0
}

// ApplyPostBootIO sets the I/O registers to the values the real boot ROM
// leaves behind, for the no-boot-ROM startup path (CPU register state is
// set separately via cpu.ResetNoBoot/ResetCGBNoBoot). Uses writeRaw so
// start-up doesn't burn M-cycles the CPU never actually spent.
func (m *Memory) ApplyPostBootIO() {
	m.writeRaw(0xFF00, 0xCF)
	m.writeRaw(0xFF05, 0x00)
	m.writeRaw(0xFF06, 0x00)
	m.writeRaw(0xFF07, 0x00)
	m.writeRaw(0xFF40, 0x91)
	m.writeRaw(0xFF42, 0x00)
	m.writeRaw(0xFF43, 0x00)
	m.writeRaw(0xFF45, 0x00)
	m.writeRaw(0xFF47, 0xFC)
	m.writeRaw(0xFF48, 0xFF)
	m.writeRaw(0xFF49, 0xFF)
	m.writeRaw(0xFF4A, 0x00)
	m.writeRaw(0xFF4B, 0x00)
	m.writeRaw(0xFFFF, 0x00)
	m.writeRaw(0xFF26, 0x80)
	m.writeRaw(0xFF24, 0x77)
	m.writeRaw(0xFF25, 0xFF)
}

// DoubleSpeed reports whether the CPU (and, via Tick's scaling, Timer/APU)
// is currently running at double speed.
func (m *Memory) DoubleSpeed() bool { return m.doubleSpeed }

// ArmSpeedSwitch is called by STOP's handler. If a KEY1 bit0 write armed a
// speed switch, it toggles double-speed, disarms, and returns true;
// otherwise it returns false and changes nothing.
func (m *Memory) ArmSpeedSwitch() bool {
	if !m.speedSwitchArmed {
		return false
	}
	m.speedSwitchArmed = false
	m.doubleSpeed = !m.doubleSpeed
	return true
}

// Tick advances every subsystem by one M-cycle's worth of T-cycles. The PPU
// always receives 4 dots (it is unaffected by double-speed); the timer and
// APU receive 4 or 8 depending on the current speed mode, since they are
// clocked directly off the (possibly doubled) CPU clock.
func (m *Memory) Tick() {
	t := 4
	if m.doubleSpeed {
		t = 8
	}
	m.ppu.Tick(4)
	m.tim.Tick(t)
	m.apu.Tick(t)
	m.stepDMA()
	m.tCycles += 4
}

// TCycles returns the total host-visible T-cycles elapsed, in the
// conventional single-speed-equivalent unit spec's stepCycles budgets in
// (4 per M-cycle, regardless of CGB double-speed mode).
func (m *Memory) TCycles() uint64 { return m.tCycles }

func (m *Memory) stepDMA() {
	if m.dmaActive {
		if m.dmaPos < 0xA0 {
			v := m.readRaw(m.dmaSrc + uint16(m.dmaPos))
			m.ppu.CPUWrite(0xFE00+uint16(m.dmaPos), v)
			m.dmaPos++
		}
		if m.dmaPos >= 0xA0 {
			m.dmaActive = false
		}
	}
}

// Read reads one byte and ticks the machine by one M-cycle, matching real
// hardware where every bus access costs time the rest of the system can
// observe mid-instruction.
func (m *Memory) Read(addr uint16) byte {
	v := m.readRaw(addr)
	m.Tick()
	return v
}

func (m *Memory) Write(addr uint16, value byte) {
	m.writeRaw(addr, value)
	m.Tick()
}

// Peek reads a byte without advancing the machine clock or triggering
// access-timing side effects (VRAM/OAM lockouts still apply). Intended for
// debug tooling (instruction tracing) that must not perturb timing.
func (m *Memory) Peek(addr uint16) byte { return m.readRaw(addr) }

func (m *Memory) readRaw(addr uint16) byte {
	switch {
	case m.bootActive && addr < 0x100 && !(m.cgb && addr >= 0x100):
		return m.bootROM[addr]
	case m.cgb && m.bootActive && addr >= 0x200 && addr < 0x900 && len(m.bootROM) >= 0x900:
		return m.bootROM[addr]
	case addr < 0x8000:
		return m.cart.Read(addr)
	case addr < 0xA000:
		return m.ppu.CPURead(addr)
	case addr < 0xC000:
		return m.cart.Read(addr)
	case addr < 0xD000:
		return m.wram[0][addr-0xC000]
	case addr < 0xE000:
		return m.wram[m.wramBank][addr-0xD000]
	case addr < 0xFE00: // echo RAM
		return m.readRaw(addr - 0x2000)
	case addr < 0xFEA0:
		if m.dmaActive {
			return 0xFF
		}
		return m.ppu.CPURead(addr)
	case addr < 0xFF00: // unusable
		return 0x00
	case addr == 0xFF00:
		return m.joy.Read()
	case addr == 0xFF01:
		return m.sb
	case addr == 0xFF02:
		return 0x7E | m.sc
	case addr == 0xFF04:
		return m.tim.ReadDIV()
	case addr == 0xFF05:
		return m.tim.ReadTIMA()
	case addr == 0xFF06:
		return m.tim.ReadTMA()
	case addr == 0xFF07:
		return m.tim.ReadTAC()
	case addr == 0xFF0F:
		return 0xE0 | m.ifReg
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return m.apu.CPURead(addr)
	case addr == 0xFF4D:
		v := byte(0x7E)
		if m.doubleSpeed {
			v |= 0x80
		}
		if m.speedSwitchArmed {
			v |= 0x01
		}
		return v
	case addr == 0xFF4F:
		return 0xFE | m.vbk
	case addr == 0xFF51, addr == 0xFF52, addr == 0xFF53, addr == 0xFF54:
		return 0xFF
	case addr == 0xFF55:
		if m.hdmaLen < 0 {
			return 0xFF
		}
		return byte(m.hdmaLen - 1)
	case addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B,
		addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45, addr == 0xFF47, addr == 0xFF48,
		addr == 0xFF49, addr == 0xFF4A, addr == 0xFF4B:
		return m.ppu.CPURead(addr)
	case addr == 0xFF70:
		return 0xF8 | m.wramBank
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return m.hram[addr-0xFF80]
	case addr == 0xFFFF:
		return m.ie
	default:
		return 0xFF
	}
}

func (m *Memory) writeRaw(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		m.cart.Write(addr, value)
	case addr < 0xA000:
		m.ppu.CPUWrite(addr, value)
	case addr < 0xC000:
		m.cart.Write(addr, value)
	case addr < 0xD000:
		m.wram[0][addr-0xC000] = value
	case addr < 0xE000:
		m.wram[m.wramBank][addr-0xD000] = value
	case addr < 0xFE00:
		m.writeRaw(addr-0x2000, value)
	case addr < 0xFEA0:
		if !m.dmaActive {
			m.ppu.CPUWrite(addr, value)
		}
	case addr < 0xFF00:
		// unusable
	case addr == 0xFF00:
		m.joy.Write(value)
	case addr == 0xFF01:
		m.sb = value
	case addr == 0xFF02:
		m.sc = value & 0x81
		if m.sc&0x81 == 0x81 {
			if m.serialW != nil {
				m.serialW(m.sb)
			}
			m.sc &^= 0x80
			m.Request(IntSerial)
		}
	case addr == 0xFF04:
		m.tim.WriteDIV(value)
	case addr == 0xFF05:
		m.tim.WriteTIMA(value)
	case addr == 0xFF06:
		m.tim.WriteTMA(value)
	case addr == 0xFF07:
		m.tim.WriteTAC(value)
	case addr == 0xFF0F:
		m.ifReg = value & 0x1F
	case addr >= 0xFF10 && addr <= 0xFF3F:
		m.apu.CPUWrite(addr, value)
	case addr == 0xFF46:
		m.startOAMDMA(value)
	case addr == 0xFF4D:
		m.speedSwitchArmed = value&0x01 != 0
	case addr == 0xFF4F:
		if m.cgb {
			m.vbk = value & 0x01
			m.ppu.CPUWrite(0xFF4F, m.vbk)
		}
	case addr == 0xFF50:
		if value != 0 {
			m.bootActive = false
		}
	case addr == 0xFF51:
		m.hdmaSrc = (m.hdmaSrc & 0x00FF) | uint16(value)<<8
	case addr == 0xFF52:
		m.hdmaSrc = (m.hdmaSrc & 0xFF00) | uint16(value&0xF0)
	case addr == 0xFF53:
		m.hdmaDst = (m.hdmaDst & 0x00FF) | uint16(value&0x1F)<<8
	case addr == 0xFF54:
		m.hdmaDst = (m.hdmaDst & 0xFF00) | uint16(value&0xF0)
	case addr == 0xFF55:
		m.startHDMA(value)
	case addr == 0xFF68, addr == 0xFF69, addr == 0xFF6A, addr == 0xFF6B,
		addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45, addr == 0xFF47, addr == 0xFF48,
		addr == 0xFF49, addr == 0xFF4A, addr == 0xFF4B:
		m.ppu.CPUWrite(addr, value)
	case addr == 0xFF70:
		v := value & 0x07
		if v == 0 {
			v = 1
		}
		m.wramBank = v
	case addr >= 0xFF80 && addr <= 0xFFFE:
		m.hram[addr-0xFF80] = value
	case addr == 0xFFFF:
		m.ie = value
	}
}

func (m *Memory) startOAMDMA(hi byte) {
	m.dmaSrc = uint16(hi) << 8
	m.dmaActive = true
	m.dmaPos = 0
}

// startHDMA implements CGB VRAM DMA. A general-purpose transfer (bit7=0)
// copies length*0x10 bytes immediately; an H-Blank transfer (bit7=1) copies
// one 0x10-byte block per H-Blank, pumped via StepHDMABlock from the PPU's
// H-Blank hook (registered in New).
func (m *Memory) startHDMA(value byte) {
	length := (int(value&0x7F) + 1) * 0x10
	if m.hdmaLen > 0 && m.hdmaHBlankMode && value&0x80 == 0 {
		// Writing bit7=0 while an H-Blank transfer is active stops it.
		m.hdmaLen = -1
		return
	}
	if value&0x80 == 0 {
		for i := 0; i < length; i++ {
			m.copyHDMAByte()
		}
		m.hdmaLen = -1
		return
	}
	m.hdmaHBlankMode = true
	m.hdmaLen = length / 0x10
}

func (m *Memory) copyHDMAByte() {
	v := m.readRaw(m.hdmaSrc)
	m.hdmaSrc++
	dst := 0x8000 + (m.hdmaDst & 0x1FFF)
	m.ppu.CPUWrite(dst, v)
	m.hdmaDst++
}

// StepHDMABlock is invoked by the PPU's H-Blank hook on each H-Blank entry; it copies
// one 16-byte block if an H-Blank-mode HDMA transfer is armed.
func (m *Memory) StepHDMABlock() {
	if m.hdmaLen <= 0 || !m.hdmaHBlankMode {
		return
	}
	for i := 0; i < 0x10; i++ {
		m.copyHDMAByte()
	}
	m.hdmaLen--
	if m.hdmaLen == 0 {
		m.hdmaHBlankMode = false
		m.hdmaLen = -1
	}
}

type state struct {
	WRAM             [8][0x1000]byte
	WRAMBank         byte
	HRAM             [0x7F]byte
	IE               byte
	IF               byte
	BootActive       bool
	DoubleSpeed      bool
	SpeedSwitchArmed bool
	VBK              byte
	SB, SC           byte
	DMAActive        bool
	DMASrc           uint16
	DMAPos           int
	HDMASrc, HDMADst uint16
	HDMALen          int
	HDMAHBlank       bool
	TCycles          uint64
	CartState        []byte
	PPUState         []byte
	APUState         []byte
	TimerState       []byte
	JoypadState      []byte
}

func (m *Memory) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := state{
		WRAM: m.wram, WRAMBank: m.wramBank, HRAM: m.hram, IE: m.ie, IF: m.ifReg,
		BootActive: m.bootActive, DoubleSpeed: m.doubleSpeed, SpeedSwitchArmed: m.speedSwitchArmed,
		VBK: m.vbk, SB: m.sb, SC: m.sc,
		DMAActive: m.dmaActive, DMASrc: m.dmaSrc, DMAPos: m.dmaPos,
		HDMASrc: m.hdmaSrc, HDMADst: m.hdmaDst, HDMALen: m.hdmaLen, HDMAHBlank: m.hdmaHBlankMode,
		TCycles:   m.tCycles,
		CartState: m.cart.SaveState(), PPUState: m.ppu.SaveState(), APUState: m.apu.SaveState(),
		TimerState: m.tim.SaveState(), JoypadState: m.joy.SaveState(),
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (m *Memory) LoadState(data []byte) {
	var s state
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	m.wram, m.wramBank, m.hram, m.ie, m.ifReg = s.WRAM, s.WRAMBank, s.HRAM, s.IE, s.IF
	m.bootActive, m.doubleSpeed, m.speedSwitchArmed = s.BootActive, s.DoubleSpeed, s.SpeedSwitchArmed
	m.vbk, m.sb, m.sc = s.VBK, s.SB, s.SC
	m.dmaActive, m.dmaSrc, m.dmaPos = s.DMAActive, s.DMASrc, s.DMAPos
	m.hdmaSrc, m.hdmaDst, m.hdmaLen, m.hdmaHBlankMode = s.HDMASrc, s.HDMADst, s.HDMALen, s.HDMAHBlank
	m.tCycles = s.TCycles
	m.cart.LoadState(s.CartState)
	m.ppu.LoadState(s.PPUState)
	m.apu.LoadState(s.APUState)
	m.tim.LoadState(s.TimerState)
	m.joy.LoadState(s.JoypadState)
}
