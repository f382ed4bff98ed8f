package ppu

// cgbVRAMReader adds bank-aware access to VRAMReader for CGB tile data and
// attribute map reads (VRAM bank 1 holds the attribute map at the same
// addresses the tile map occupies in bank 0).
type cgbVRAMReader interface {
	Read(addr uint16) byte
	ReadBank(bank int, addr uint16) byte
}

func cgbColorIndexAt(lo, hi byte, px int, xflip bool) byte {
	bit := 7 - px
	if xflip {
		bit = px
	}
	return ((hi>>byte(bit))&1)<<1 | ((lo >> byte(bit)) & 1)
}

func cgbTileRow(mem cgbVRAMReader, bank int, tileData8000 bool, tileNum byte, row int) (lo, hi byte) {
	var base uint16
	if tileData8000 {
		base = 0x8000 + uint16(tileNum)*16 + uint16(row)*2
	} else {
		base = 0x9000 + uint16(int8(tileNum))*16 + uint16(row)*2
	}
	return mem.ReadBank(bank, base), mem.ReadBank(bank, base+1)
}

// RenderBGScanlineCGB renders one BG scanline honoring per-tile CGB
// attributes (palette, bank, X/Y flip, BG-to-OBJ priority) read from
// attrBase in VRAM bank 1.
func RenderBGScanlineCGB(mem cgbVRAMReader, mapBase, attrBase uint16, tileData8000 bool, scx, scy, ly byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	bgY := uint16(ly) + uint16(scy)
	fineY := int(bgY & 7)
	mapY := (bgY >> 3) & 31
	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	col := 0
	curTileX := tileX
	for x := -fineX; x < 160; {
		mapAddr := mapBase + mapY*32 + curTileX
		tileNum := mem.ReadBank(0, mapAddr)
		attr := mem.ReadBank(1, attrBase+mapY*32+curTileX)
		yflip := attr&0x40 != 0
		xflip := attr&0x20 != 0
		bank := 0
		if attr&0x08 != 0 {
			bank = 1
		}
		row := fineY
		if yflip {
			row = 7 - fineY
		}
		lo, hi := cgbTileRow(mem, bank, tileData8000, tileNum, row)
		for px := 0; px < 8; px++ {
			sx := x + px
			if sx >= 0 && sx < 160 {
				ci[sx] = cgbColorIndexAt(lo, hi, px, xflip)
				pal[sx] = attr & 0x07
				pri[sx] = attr&0x80 != 0
			}
		}
		_ = col
		x += 8
		curTileX = (curTileX + 1) & 31
	}
	return
}

// RenderWindowScanlineCGB mirrors RenderBGScanlineCGB for the window layer:
// no scroll, tile column always starts at 0. winLine is the window's own
// internal line counter (0..143); the tile-map row is (winLine/8)*32 per
// spec's (y/8)*32 + (x/8) rule, same as the DMG fetcher path.
func RenderWindowScanlineCGB(mem cgbVRAMReader, mapBase, attrBase uint16, tileData8000 bool, winXStart, winLine byte) (ci [160]byte, pal [160]byte, pri [160]bool) {
	if winXStart >= 160 {
		return
	}
	fineY := winLine & 7
	rowBase := uint16(winLine>>3) * 32
	tileCol := uint16(0)
	x := int(winXStart)
	for x < 160 {
		mapAddr := mapBase + rowBase + tileCol
		tileNum := mem.ReadBank(0, mapAddr)
		attr := mem.ReadBank(1, attrBase+rowBase+tileCol)
		yflip := attr&0x40 != 0
		xflip := attr&0x20 != 0
		bank := 0
		if attr&0x08 != 0 {
			bank = 1
		}
		row := int(fineY)
		if yflip {
			row = 7 - int(fineY)
		}
		lo, hi := cgbTileRow(mem, bank, tileData8000, tileNum, row)
		for px := 0; px < 8 && x < 160; px++ {
			ci[x] = cgbColorIndexAt(lo, hi, px, xflip)
			pal[x] = attr & 0x07
			pri[x] = attr&0x80 != 0
			x++
		}
		tileCol++
	}
	return
}
