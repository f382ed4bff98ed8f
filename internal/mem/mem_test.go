package mem

import (
	"testing"

	"github.com/fenrir-emu/goboy/internal/cart"
)

func newTestMemory() *Memory {
	rom := make([]byte, 0x8000)
	return New(cart.NewCartridge(rom), false)
}

func TestMemory_EchoRAMMirrorsWRAM(t *testing.T) {
	m := newTestMemory()
	m.writeRaw(0xC010, 0x42)
	if got := m.readRaw(0xE010); got != 0x42 {
		t.Fatalf("echo RAM read got %02X want 42", got)
	}
}

func TestMemory_HRAMReadWrite(t *testing.T) {
	m := newTestMemory()
	m.writeRaw(0xFF80, 0x99)
	if got := m.readRaw(0xFF80); got != 0x99 {
		t.Fatalf("HRAM read got %02X want 99", got)
	}
}

func TestMemory_IFUpperBitsForcedHigh(t *testing.T) {
	m := newTestMemory()
	m.writeRaw(0xFF0F, 0x03)
	if got := m.readRaw(0xFF0F); got != 0xE3 {
		t.Fatalf("IF read got %02X want E3", got)
	}
}

func TestMemory_DIVWriteResetsToZero(t *testing.T) {
	m := newTestMemory()
	for i := 0; i < 500; i++ {
		m.Tick()
	}
	m.writeRaw(0xFF04, 0xAB)
	if got := m.readRaw(0xFF04); got != 0 {
		t.Fatalf("DIV after write got %02X want 00", got)
	}
}

func TestMemory_SerialImmediateTransfer(t *testing.T) {
	m := newTestMemory()
	var got byte
	m.SetSerialWriter(func(b byte) { got = b })
	m.writeRaw(0xFF01, 0x7A)
	m.writeRaw(0xFF02, 0x81)
	if got != 0x7A {
		t.Fatalf("serial writer got %02X want 7A", got)
	}
	if m.PendingInterrupts()&(1<<IntSerial) == 0 {
		t.Fatalf("expected serial interrupt to be pending")
	}
	if m.readRaw(0xFF02)&0x80 != 0 {
		t.Fatalf("SC transfer-start bit should clear after completion")
	}
}

func TestMemory_OAMDMACopiesFromSource(t *testing.T) {
	m := newTestMemory()
	for i := 0; i < 0xA0; i++ {
		m.writeRaw(0xC000+uint16(i), byte(i))
	}
	m.writeRaw(0xFF46, 0xC0)
	for i := 0; i < 0xA0; i++ {
		m.Tick()
	}
	if got := m.ppu.CPURead(0xFE00 + 5); got != 5 {
		t.Fatalf("OAM DMA byte 5 got %02X want 05", got)
	}
}

func TestMemory_ApplyPostBootIOSetsDMGDefaults(t *testing.T) {
	m := newTestMemory()
	m.ApplyPostBootIO()
	if got := m.readRaw(0xFF40); got != 0x91 {
		t.Fatalf("LCDC got %02X want 91", got)
	}
	if got := m.readRaw(0xFF07); got != 0xF8 {
		t.Fatalf("TAC got %02X want F8 (timer must start disabled; unused bits read 1)", got)
	}
	if got := m.readRaw(0xFF25); got != 0xFF {
		t.Fatalf("NR51 got %02X want FF", got)
	}
}

func TestMemory_TCyclesAdvanceBy4PerTick(t *testing.T) {
	m := newTestMemory()
	start := m.TCycles()
	for i := 0; i < 10; i++ {
		m.Tick()
	}
	if got := m.TCycles() - start; got != 40 {
		t.Fatalf("TCycles advanced by %d want 40", got)
	}
}

func TestMemory_PeekDoesNotAdvanceClock(t *testing.T) {
	m := newTestMemory()
	m.writeRaw(0xC000, 0x55)
	before := m.TCycles()
	if got := m.Peek(0xC000); got != 0x55 {
		t.Fatalf("Peek got %02X want 55", got)
	}
	if m.TCycles() != before {
		t.Fatalf("Peek must not advance TCycles")
	}
}

func TestMemory_StepHDMABlockCopiesOneBlockPerCall(t *testing.T) {
	m := New(cart.NewCartridge(make([]byte, 0x8000)), true)
	// Source 0x4000 in a fixed ROM bank, destination VRAM 0x8000.
	m.writeRaw(0xFF51, 0x40)
	m.writeRaw(0xFF52, 0x00)
	m.writeRaw(0xFF53, 0x80)
	m.writeRaw(0xFF54, 0x00)
	m.writeRaw(0xFF55, 0x81) // H-Blank mode, 2 blocks (32 bytes)
	if !m.hdmaHBlankMode || m.hdmaLen != 2 {
		t.Fatalf("expected H-Blank HDMA armed with 2 blocks, got active=%v len=%d", m.hdmaHBlankMode, m.hdmaLen)
	}
	m.StepHDMABlock()
	if m.hdmaLen != 1 {
		t.Fatalf("StepHDMABlock should consume exactly one block, hdmaLen=%d want 1", m.hdmaLen)
	}
	m.StepHDMABlock()
	if m.hdmaHBlankMode {
		t.Fatalf("HDMA should disarm once all blocks are copied")
	}
}
