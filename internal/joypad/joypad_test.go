package joypad

import "testing"

func TestJoypad_DefaultUnselectedRead(t *testing.T) {
	j := New(nil)
	if got := j.Read(); got != 0xFF {
		t.Fatalf("unselected read got %02X want FF", got)
	}
}

func TestJoypad_DirectionSelectAndPress(t *testing.T) {
	j := New(nil)
	j.Write(0x20) // clear bit4 -> select direction keys (bit5 stays set: action unselected)
	j.SetDirection(Right|Up, true)
	if got := j.Read() & 0x0F; got != 0x0A { // Right(0)+Up(2) cleared -> 0b1010
		t.Fatalf("direction read got %04b want 1010", got)
	}
}

func TestJoypad_InterruptOnSelectedPress(t *testing.T) {
	var fired int
	j := New(func() { fired++ })
	j.Write(0x10) // select action keys only
	j.SetAction(A, true)
	if fired != 1 {
		t.Fatalf("expected interrupt on selected press, fired=%d", fired)
	}
	j.SetDirection(Up, true) // not selected, no interrupt
	if fired != 1 {
		t.Fatalf("unselected press should not interrupt, fired=%d", fired)
	}
}
