package ppu

import "testing"

func TestWindowScanlineFetcherWXAndTiles(t *testing.T) {
	mem := mockVRAM{}
	mapBase := uint16(0x9800)
	// window map first two tiles 0,1
	mem[mapBase+0] = 0
	mem[mapBase+1] = 1
	// fineY=2 row bytes
	fineY := byte(2)
	base0 := uint16(0x8000) + 0*16 + uint16(fineY)*2
	mem[base0] = 0xAA
	mem[base0+1] = 0x0F
	base1 := uint16(0x8000) + 1*16 + uint16(fineY)*2
	mem[base1] = 0x55
	mem[base1+1] = 0xF0
	// WX-7 start at 20
	out := RenderWindowScanlineUsingFetcher(mem, mapBase, true, 20, fineY)
	// Before 20 must remain 0
	for x := 0; x < 20; x++ {
		if out[x] != 0 {
			t.Fatalf("pre-window px %d = %d, want 0", x, out[x])
		}
	}
	// First 8 window pixels from tile0
	lo0, hi0 := byte(0xAA), byte(0x0F)
	for i := 0; i < 8; i++ {
		b := 7 - byte(i)
		want := ((hi0>>b)&1)<<1 | ((lo0 >> b) & 1)
		if out[20+i] != want {
			t.Fatalf("tile0 px %d got %d want %d", i, out[20+i], want)
		}
	}
	// Next 8 from tile1
	lo1, hi1 := byte(0x55), byte(0xF0)
	for i := 0; i < 8; i++ {
		b := 7 - byte(i)
		want := ((hi1>>b)&1)<<1 | ((lo1 >> b) & 1)
		if out[28+i] != want {
			t.Fatalf("tile1 px %d got %d want %d", i, out[28+i], want)
		}
	}
}

func TestWindowScanlineFetcherUsesTileMapRowForLineBelow8(t *testing.T) {
	mem := mockVRAM{}
	mapBase := uint16(0x9800)
	winLine := byte(9) // second tile row (row 1), fine-Y 1
	rowBase := mapBase + 32
	mem[rowBase+0] = 7 // distinct tile index from row 0, which is left zeroed
	base := uint16(0x8000) + 7*16 + 1*2
	mem[base] = 0xFF
	mem[base+1] = 0x00

	out := RenderWindowScanlineUsingFetcher(mem, mapBase, true, 0, winLine)
	want := ((byte(0)>>7)&1)<<1 | ((byte(0xFF) >> 7) & 1)
	if out[0] != want {
		t.Fatalf("window line %d should read tile-map row 1 (tile index 7), got px=%d want=%d", winLine, out[0], want)
	}
}

func TestWindowScanlineCGBUsesTileMapRowForLineBelow8(t *testing.T) {
	mem := &fakeVRAM{}
	mapBase := uint16(0x9800)
	winLine := byte(8) // second tile row (row 1), fine-Y 0
	rowBase := mapBase + 32
	mem.v0[rowBase-0x8000] = 3
	mem.v1[rowBase-0x8000] = 0 // attrs: bank 0, palette 0, no flip

	base := uint16(0x8000) + 3*16
	mem.v0[base-0x8000] = 0x80
	mem.v0[base-0x8000+1] = 0x00

	ci, _, _ := RenderWindowScanlineCGB(mem, mapBase, mapBase, true, 0, winLine)
	if ci[0] == 0 {
		t.Fatalf("window line %d should read tile-map row 1 (tile index 3), got transparent pixel", winLine)
	}
}
