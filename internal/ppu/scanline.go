package ppu

// vramReader is a lowercase alias for VRAMReader, used by the scanline
// helpers that predate the exported name.
type vramReader = VRAMReader

// renderBGScanlineUsingFetcher renders 160 BG pixels for the given LY using the isolated fetcher.
// Inputs:
// - mem: VRAM reader
// - mapBase: 0x9800 or 0x9C00
// - tileData8000: true -> 0x8000 addressing; false -> 0x8800 signed addressing
// - scx, scy: scroll registers
// - ly: current scanline (0..143)
// Output: 160 color indices (0..3)
func renderBGScanlineUsingFetcher(mem vramReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [160]byte {
	var out [160]byte

	// Compute BG coordinates.
	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31 // 0..31 rows

	startX := uint16(scx)
	tileX := (startX >> 3) & 31
	fineX := int(startX & 7)

	// Map index address for the first tile column.
	tileIndexAddr := mapBase + mapY*32 + tileX

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
	f.Fetch()
	// Discard scx fractional pixels.
	for i := 0; i < fineX; i++ {
		_, _ = q.Pop()
	}

	// Produce 160 pixels, fetching new tiles as the FIFO empties.
	for x := 0; x < 160; x++ {
		if q.Len() == 0 {
			// Advance to next tile in map row (wrap at 32 tiles).
			tileX = (tileX + 1) & 31
			tileIndexAddr = mapBase + mapY*32 + tileX
			f.Configure(mapBase, tileData8000, tileIndexAddr, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// RenderWindowScanlineUsingFetcher renders the window layer for one
// scanline starting at screen column winXStart (== WX-7). Unlike the BG
// fetcher the window always starts at tile column 0 of its map row and
// never wraps around 32 tiles, since the window cannot scroll. winLine is
// the window's own internal line counter (0..143, independent of LY);
// the tile-map row is (winLine/8)*32 per spec's (y/8)*32 + (x/8) rule.
func RenderWindowScanlineUsingFetcher(mem vramReader, mapBase uint16, tileData8000 bool, winXStart byte, winLine byte) [160]byte {
	var out [160]byte
	if winXStart >= 160 {
		return out
	}

	fineY := winLine & 7
	rowBase := mapBase + uint16(winLine>>3)*32

	var q fifo
	f := newBGFetcher(mem, &q)
	tileCol := uint16(0)
	f.Configure(mapBase, tileData8000, rowBase+tileCol, fineY)
	f.Fetch()

	for x := int(winXStart); x < 160; x++ {
		if q.Len() == 0 {
			tileCol++
			f.Configure(mapBase, tileData8000, rowBase+tileCol, fineY)
			f.Fetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}
