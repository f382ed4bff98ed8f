package cpu

import "testing"

// testBus is a minimal Bus implementation backed by a flat 64KiB array,
// used to unit-test the CPU in isolation from the full memory map.
type testBus struct {
	mem              [0x10000]byte
	ifReg            byte
	ieReg            byte
	doubleSpeed      bool
	speedSwitchArmed bool
	ticks            int
}

func (b *testBus) Read(addr uint16) byte {
	b.ticks++
	return b.mem[addr]
}

func (b *testBus) Write(addr uint16, v byte) {
	b.ticks++
	b.mem[addr] = v
}

func (b *testBus) PendingInterrupts() byte { return b.ifReg }
func (b *testBus) IE() byte                { return b.ieReg }
func (b *testBus) ClearInterrupt(bit uint) { b.ifReg &^= 1 << bit }
func (b *testBus) DoubleSpeed() bool       { return b.doubleSpeed }
func (b *testBus) ArmSpeedSwitch() bool    { b.speedSwitchArmed = true; return b.speedSwitchArmed }

func newCPUWithROM(code []byte) (*CPU, *testBus) {
	b := &testBus{}
	copy(b.mem[:], code)
	c := New(b)
	c.PC = 0
	return c, b
}

func TestCPU_NopAndPC(t *testing.T) {
	c, b := newCPUWithROM([]byte{0x00})
	c.Step()
	if c.PC != 1 {
		t.Fatalf("PC after NOP got %#04x want 0x0001", c.PC)
	}
	if b.ticks != 1 {
		t.Fatalf("NOP ticks got %d want 1", b.ticks)
	}
}

func TestCPU_LD_A_d8_And_XOR_A(t *testing.T) {
	c, _ := newCPUWithROM([]byte{0x3E, 0x12, 0xAF}) // LD A,0x12; XOR A
	c.Step()
	if c.A != 0x12 {
		t.Fatalf("A after LD got %02x want 12", c.A)
	}
	c.Step()
	if c.A != 0x00 {
		t.Fatalf("A after XOR got %02x want 00", c.A)
	}
	if !c.flag(flagZ) {
		t.Fatalf("Z flag not set after XOR A")
	}
	if c.F&0x0F != 0 {
		t.Fatalf("low nibble of F not zero: %02x", c.F)
	}
}

func TestCPU_LD_a16_A_and_LD_A_a16(t *testing.T) {
	prog := []byte{0x3E, 0x77, 0xEA, 0x00, 0xC0, 0x3E, 0x00, 0xFA, 0x00, 0xC0}
	c, b := newCPUWithROM(prog)
	c.Step() // LD A,77
	c.Step() // LD (C000),A
	if a := b.mem[0xC000]; a != 0x77 {
		t.Fatalf("WRAM at C000 got %02x want 77", a)
	}
	c.Step() // LD A,00
	c.Step() // LD A,(C000)
	if c.A != 0x77 {
		t.Fatalf("A after LD A,(C000) got %02x want 77", c.A)
	}
}

func TestCPU_JP_and_JR(t *testing.T) {
	// JP 0x0010; at 0x0010: JR -2 (loops forever back to itself)
	prog := make([]byte, 0x20)
	prog[0], prog[1], prog[2] = 0xC3, 0x10, 0x00
	prog[0x10], prog[0x11] = 0x18, 0xFE
	c, _ := newCPUWithROM(prog)
	c.Step() // JP
	if c.PC != 0x10 {
		t.Fatalf("PC after JP got %#04x want 0x0010", c.PC)
	}
	c.Step() // JR -2
	if c.PC != 0x10 {
		t.Fatalf("PC after JR got %#04x want 0x0010", c.PC)
	}
}

func TestCPU_CALL_and_RET(t *testing.T) {
	prog := make([]byte, 0x20)
	prog[0], prog[1], prog[2] = 0xCD, 0x10, 0x00 // CALL 0x0010
	prog[3] = 0x00                               // NOP (return target)
	prog[0x10] = 0xC9                            // RET
	c, _ := newCPUWithROM(prog)
	c.SP = 0xFFFE
	c.Step() // CALL
	if c.PC != 0x10 {
		t.Fatalf("PC after CALL got %#04x want 0x0010", c.PC)
	}
	c.Step() // RET
	if c.PC != 3 {
		t.Fatalf("PC after RET got %#04x want 0x0003", c.PC)
	}
	if c.SP != 0xFFFE {
		t.Fatalf("SP after CALL/RET got %#04x want 0xFFFE", c.SP)
	}
}

func TestCPU_PushPop_AF_MasksLowNibble(t *testing.T) {
	c, _ := newCPUWithROM([]byte{0xF5, 0xD1}) // PUSH AF; POP DE
	c.A = 0x12
	c.F = 0xF0
	c.Step() // PUSH AF
	c.Step() // POP DE
	if c.D != 0x12 {
		t.Fatalf("D after POP got %02x want 12", c.D)
	}
	if c.E&0x0F != 0 {
		t.Fatalf("E low nibble after POP AF-onto-DE got %02x want 0", c.E&0x0F)
	}
}

func TestCPU_INC_DEC_HalfCarry(t *testing.T) {
	c, _ := newCPUWithROM([]byte{0x3C, 0x3D}) // INC A; DEC A
	c.A = 0x0F
	c.Step() // INC A -> 0x10, H set
	if c.A != 0x10 || !c.flag(flagH) {
		t.Fatalf("INC A got A=%02x H=%v want 10/true", c.A, c.flag(flagH))
	}
	c.Step() // DEC A -> 0x0F, H set (borrow from bit 4)
	if c.A != 0x0F || !c.flag(flagH) {
		t.Fatalf("DEC A got A=%02x H=%v want 0f/true", c.A, c.flag(flagH))
	}
}

func TestCPU_ADD_SetsCarryAndHalfCarry(t *testing.T) {
	c, _ := newCPUWithROM([]byte{0xC6, 0x01}) // ADD A,1
	c.A = 0xFF
	c.Step()
	if c.A != 0x00 || !c.flag(flagZ) || !c.flag(flagC) || !c.flag(flagH) {
		t.Fatalf("ADD A,1 overflow got A=%02x F=%02x", c.A, c.F)
	}
}

func TestCPU_DAA_AfterBCDAddition(t *testing.T) {
	// LD A,0x09; ADD A,0x09 -> 0x12 binary, DAA should correct to 0x18 BCD
	prog := []byte{0x3E, 0x09, 0xC6, 0x09, 0x27}
	c, _ := newCPUWithROM(prog)
	c.Step() // LD A,09
	c.Step() // ADD A,09 -> 0x12, H set
	c.Step() // DAA -> 0x18
	if c.A != 0x18 {
		t.Fatalf("A after DAA got %02x want 18", c.A)
	}
}

func TestCPU_EI_IsDelayedByOneInstruction(t *testing.T) {
	// EI; NOP; NOP -- IME should become true only once the instruction
	// AFTER the one following EI begins executing.
	c, b := newCPUWithROM([]byte{0xFB, 0x00, 0x00})
	b.ieReg = 0x01
	b.ifReg = 0x01
	c.Step() // EI itself: IME still false during this Step
	if c.IME {
		t.Fatalf("IME set immediately after EI, want still false")
	}
	c.Step() // first NOP after EI executes normally; IME still disabled for it
	if c.IME || c.PC != 2 {
		t.Fatalf("NOP following EI should execute with IME still false, PC=%#04x IME=%v", c.PC, c.IME)
	}
	c.Step() // IME turns on at the top of this Step, so the pending
	// interrupt is serviced instead of the second NOP executing.
	if c.PC != 0x41 {
		t.Fatalf("expected interrupt dispatch after EI delay, PC got %#04x want 0x0041", c.PC)
	}
}

func TestCPU_HaltBug_DoubleReadsNextByte(t *testing.T) {
	// IME=false, IE&IF != 0 at HALT time: the halt bug arms, and the next
	// fetch reads the same byte twice (PC does not advance on it).
	prog := []byte{0x76, 0x3E, 0x99} // HALT; LD A,0x99
	c, b := newCPUWithROM(prog)
	b.ieReg = 0x01
	b.ifReg = 0x01
	c.IME = false
	c.Step() // HALT arms the bug, does not actually halt
	if c.halted {
		t.Fatalf("CPU should not halt when the halt bug triggers")
	}
	if !c.haltBug {
		t.Fatalf("expected haltBug to be armed")
	}
	c.Step() // fetch8 re-reads opcode at PC=1 (0x3E) without advancing first
	if c.PC != 2 {
		t.Fatalf("PC after buggy fetch got %#04x want 0x0002", c.PC)
	}
}

func TestCPU_Halt_WakesOnPendingInterruptWithIMEOff(t *testing.T) {
	prog := []byte{0x76, 0x00, 0x00}
	c, b := newCPUWithROM(prog)
	c.IME = false
	b.ieReg, b.ifReg = 0, 0
	c.Step() // HALT, no pending interrupt: actually halts
	if !c.halted {
		t.Fatalf("expected CPU to halt")
	}
	c.Step() // still halted, nothing pending
	if !c.halted {
		t.Fatalf("expected CPU to remain halted")
	}
	b.ieReg, b.ifReg = 0x01, 0x01
	c.Step() // pending interrupt now: wakes even though IME is false
	if c.halted {
		t.Fatalf("expected CPU to wake on pending interrupt")
	}
}

func TestCPU_InterruptDispatch_PushesPCAndJumpsToVector(t *testing.T) {
	c, b := newCPUWithROM([]byte{0x00, 0x00, 0x00})
	c.IME = true
	c.SP = 0xFFFE
	b.ieReg = 1 << 1 // STAT
	b.ifReg = 1 << 1
	c.Step()
	if c.PC != 0x48 {
		t.Fatalf("PC after STAT dispatch got %#04x want 0x0048", c.PC)
	}
	if c.IME {
		t.Fatalf("IME should be cleared on interrupt dispatch")
	}
	if b.ifReg&(1<<1) != 0 {
		t.Fatalf("IF bit should be cleared by ClearInterrupt")
	}
	if c.SP != 0xFFFC {
		t.Fatalf("SP after push got %#04x want 0xFFFC", c.SP)
	}
}

func TestCPU_InterruptPriority_VBlankBeforeTimer(t *testing.T) {
	c, b := newCPUWithROM([]byte{0x00})
	c.IME = true
	b.ieReg = 0x1F
	b.ifReg = (1 << 2) | (1 << 0) // Timer and VBlank both pending
	c.Step()
	if c.PC != 0x40 {
		t.Fatalf("expected VBlank (highest priority) serviced first, PC got %#04x want 0x0040", c.PC)
	}
}

func TestCPU_STOP_ArmsSpeedSwitch(t *testing.T) {
	c, b := newCPUWithROM([]byte{0x10, 0x00})
	c.Step()
	if !b.speedSwitchArmed {
		t.Fatalf("expected ArmSpeedSwitch to be consulted on STOP")
	}
}

func TestCPU_CB_BIT_SetsZeroFlag(t *testing.T) {
	c, _ := newCPUWithROM([]byte{0xCB, 0x47}) // BIT 0,A
	c.A = 0x00
	c.Step()
	if !c.flag(flagZ) {
		t.Fatalf("expected Z set when tested bit is 0")
	}
	if !c.flag(flagH) {
		t.Fatalf("BIT should always set H")
	}
}

func TestCPU_CB_SWAP_Nibbles(t *testing.T) {
	c, _ := newCPUWithROM([]byte{0xCB, 0x37}) // SWAP A
	c.A = 0xA5
	c.Step()
	if c.A != 0x5A {
		t.Fatalf("SWAP A got %02x want 5a", c.A)
	}
}

func TestCPU_CB_RES_SET_Bits(t *testing.T) {
	c, _ := newCPUWithROM([]byte{0xCB, 0x87, 0xCB, 0xC7}) // RES 0,A; SET 0,A
	c.A = 0xFF
	c.Step()
	if c.A != 0xFE {
		t.Fatalf("RES 0,A got %02x want fe", c.A)
	}
	c.Step()
	if c.A != 0xFF {
		t.Fatalf("SET 0,A got %02x want ff", c.A)
	}
}

func TestCPU_IllegalOpcode_IsANoop(t *testing.T) {
	c, _ := newCPUWithROM([]byte{0xD3, 0x00})
	c.Step()
	if c.PC != 1 {
		t.Fatalf("PC after illegal opcode got %#04x want 0x0001", c.PC)
	}
}

func TestCPU_SaveStateRoundTrip(t *testing.T) {
	c, _ := newCPUWithROM([]byte{0x00})
	c.A, c.B, c.PC, c.SP = 0x11, 0x22, 0x1234, 0x5678
	c.IME = true
	data := c.SaveState()

	c2, _ := newCPUWithROM([]byte{0x00})
	c2.LoadState(data)
	if c2.A != 0x11 || c2.B != 0x22 || c2.PC != 0x1234 || c2.SP != 0x5678 || !c2.IME {
		t.Fatalf("state did not round-trip: %+v", c2)
	}
}
