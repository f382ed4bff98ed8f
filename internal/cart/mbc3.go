package cart

import (
	"bytes"
	"encoding/gob"
	"time"
)

// nowUnix is indirected so tests can control wall-clock advancement.
var nowUnix = func() int64 { return time.Now().Unix() }

// MBC3 implements ROM/RAM banking plus the MBC3 real-time clock.
// Banking behavior:
// - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank low 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3) or RTC register select (0x08-0x0C)
// - 6000-7FFF: latch clock data on a 0->1 write
// - A000-BFFF: external RAM, or the latched/live RTC register when selected
// ROM: bank 0 fixed at 0000-3FFF; switchable 4000-7FFF uses bank (1..127)
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	ramBank    byte // 0..3 selects a RAM bank; 0x08..0x0C selects an RTC register

	// Live RTC registers.
	rtcSec  byte
	rtcMin  byte
	rtcHour byte
	rtcDay  uint16 // 9 bits
	rtcHalt bool
	rtcCarry bool

	// Latched copies, snapshotted on a 0->1 write to the latch register.
	latchSec, latchMin, latchHour byte
	latchDay                      uint16
	latchHalt, latchCarry         bool
	lastLatchWrite                byte

	lastRTCWallSec int64
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom, lastRTCWallSec: nowUnix()}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	return m
}

// updateRTC advances the live clock registers by the wall-clock delta since
// the last observed access. A halted clock does not advance but still
// resynchronizes lastRTCWallSec so resuming doesn't replay missed time.
func (m *MBC3) updateRTC() {
	now := nowUnix()
	if m.rtcHalt {
		m.lastRTCWallSec = now
		return
	}
	delta := now - m.lastRTCWallSec
	if delta <= 0 {
		return
	}
	m.lastRTCWallSec = now

	totalSec := int64(m.rtcSec) + delta
	m.rtcSec = byte(totalSec % 60)
	carryMin := totalSec / 60
	if carryMin == 0 {
		return
	}
	totalMin := int64(m.rtcMin) + carryMin
	m.rtcMin = byte(totalMin % 60)
	carryHour := totalMin / 60
	if carryHour == 0 {
		return
	}
	totalHour := int64(m.rtcHour) + carryHour
	m.rtcHour = byte(totalHour % 24)
	carryDay := totalHour / 24
	if carryDay == 0 {
		return
	}
	totalDay := int64(m.rtcDay) + carryDay
	if totalDay >= 512 {
		m.rtcCarry = true
		totalDay %= 512
	}
	m.rtcDay = uint16(totalDay)
}

func (m *MBC3) Read(addr uint16) byte {
	m.updateRTC()
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			return m.readLatchedRTC()
		}
		if len(m.ram) == 0 {
			return 0xFF
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) readLatchedRTC() byte {
	switch m.ramBank {
	case 0x08:
		return m.latchSec
	case 0x09:
		return m.latchMin
	case 0x0A:
		return m.latchHour
	case 0x0B:
		return byte(m.latchDay & 0xFF)
	case 0x0C:
		v := byte((m.latchDay >> 8) & 0x01)
		if m.latchHalt {
			v |= 0x40
		}
		if m.latchCarry {
			v |= 0x80
		}
		return v
	}
	return 0xFF
}

func (m *MBC3) Write(addr uint16, value byte) {
	m.updateRTC()
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		m.ramBank = value
	case addr < 0x8000:
		if m.lastLatchWrite == 0x00 && value == 0x01 {
			m.latchSec, m.latchMin, m.latchHour = m.rtcSec, m.rtcMin, m.rtcHour
			m.latchDay, m.latchHalt, m.latchCarry = m.rtcDay, m.rtcHalt, m.rtcCarry
		}
		m.lastLatchWrite = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.ramBank >= 0x08 && m.ramBank <= 0x0C {
			m.writeLiveRTC(value)
			return
		}
		if len(m.ram) == 0 {
			return
		}
		rb := int(m.ramBank & 0x03)
		off := rb*0x2000 + int(addr-0xA000)
		if off >= 0 && off < len(m.ram) {
			m.ram[off] = value
		}
	}
}

func (m *MBC3) writeLiveRTC(value byte) {
	switch m.ramBank {
	case 0x08:
		m.rtcSec = value % 60
	case 0x09:
		m.rtcMin = value % 60
	case 0x0A:
		m.rtcHour = value % 24
	case 0x0B:
		m.rtcDay = (m.rtcDay & 0x100) | uint16(value)
	case 0x0C:
		m.rtcDay = (m.rtcDay & 0xFF) | (uint16(value&0x01) << 8)
		m.rtcHalt = value&0x40 != 0
		m.rtcCarry = value&0x80 != 0
	}
}

// BatteryBacked implementation. RTC state rides along with RAM in the saved
// blob so a .sav file captures the clock, matching how real RTC3-equipped
// games expect their save data to round-trip.
type mbc3SaveRAM struct {
	RAM            []byte
	RTCSec         byte
	RTCMin         byte
	RTCHour        byte
	RTCDay         uint16
	RTCHalt        bool
	RTCCarry       bool
	LastRTCWallSec int64
}

func (m *MBC3) SaveRAM() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := mbc3SaveRAM{
		RAM: append([]byte(nil), m.ram...),
		RTCSec: m.rtcSec, RTCMin: m.rtcMin, RTCHour: m.rtcHour, RTCDay: m.rtcDay,
		RTCHalt: m.rtcHalt, RTCCarry: m.rtcCarry, LastRTCWallSec: m.lastRTCWallSec,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (m *MBC3) LoadRAM(data []byte) {
	var s mbc3SaveRAM
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	if len(m.ram) > 0 && len(s.RAM) > 0 {
		copy(m.ram, s.RAM)
	}
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = s.RTCSec, s.RTCMin, s.RTCHour, s.RTCDay
	m.rtcHalt, m.rtcCarry, m.lastRTCWallSec = s.RTCHalt, s.RTCCarry, s.LastRTCWallSec
}

type mbc3State struct {
	RAM            []byte
	RamEnabled     bool
	RomBank        byte
	RamBank        byte
	RTCSec         byte
	RTCMin         byte
	RTCHour        byte
	RTCDay         uint16
	RTCHalt        bool
	RTCCarry       bool
	LastRTCWallSec int64
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := mbc3State{
		RAM: append([]byte(nil), m.ram...), RamEnabled: m.ramEnabled, RomBank: m.romBank, RamBank: m.ramBank,
		RTCSec: m.rtcSec, RTCMin: m.rtcMin, RTCHour: m.rtcHour, RTCDay: m.rtcDay,
		RTCHalt: m.rtcHalt, RTCCarry: m.rtcCarry, LastRTCWallSec: m.lastRTCWallSec,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	if len(m.ram) > 0 && len(s.RAM) > 0 {
		copy(m.ram, s.RAM)
	}
	m.ramEnabled, m.romBank, m.ramBank = s.RamEnabled, s.RomBank, s.RamBank
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = s.RTCSec, s.RTCMin, s.RTCHour, s.RTCDay
	m.rtcHalt, m.rtcCarry, m.lastRTCWallSec = s.RTCHalt, s.RTCCarry, s.LastRTCWallSec
}
