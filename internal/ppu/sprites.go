package ppu

// Sprite is a decoded OAM entry ready for scanline composition. X/Y are
// already adjusted to screen space (the OAM +8/+16 offset has been
// subtracted by the caller), so Sprite.X is the screen column of the
// sprite's leftmost pixel.
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// spriteBeats reports whether a has drawing priority over b for a pixel
// both cover. On DMG, smaller X wins; OAM index is the tie-breaker (and
// the sole rule in CGB mode, where X no longer affects OBJ-OBJ priority).
func spriteBeats(a, b Sprite, cgb bool) bool {
	if !cgb && a.X != b.X {
		return a.X < b.X
	}
	return a.OAMIndex < b.OAMIndex
}

// ComposeSpriteLine returns the composed 8x8 sprite color indices (0 =
// transparent) for one scanline, honoring BG-priority (attr bit7) against
// the already-rendered BG color indices in bgci.
func ComposeSpriteLine(mem cgbVRAMReader, sprites []Sprite, ly byte, bgci [160]byte, cgb bool) [160]byte {
	ci, _ := ComposeSpriteLineExt(mem, sprites, ly, bgci, cgb)
	return ci
}

// ComposeSpriteLineExt is ComposeSpriteLine plus the winning sprite's
// palette selection (DMG: OBP0/OBP1 from attr bit4; CGB: attr bits0-2).
// In CGB mode the tile is fetched from attr bit3's VRAM bank.
func ComposeSpriteLineExt(mem cgbVRAMReader, sprites []Sprite, ly byte, bgci [160]byte, cgb bool) (ci [160]byte, pal [160]byte) {
	for x := 0; x < 160; x++ {
		var winner *Sprite
		var winnerColor byte
		for i := range sprites {
			s := &sprites[i]
			row := int(ly) - s.Y
			if row < 0 || row >= 8 {
				continue
			}
			px := x - s.X
			if px < 0 || px >= 8 {
				continue
			}
			tileRow := row
			if s.Attr&0x40 != 0 { // Y flip
				tileRow = 7 - row
			}
			bank := 0
			if cgb && s.Attr&0x08 != 0 {
				bank = 1
			}
			base := uint16(0x8000) + uint16(s.Tile)*16 + uint16(tileRow)*2
			lo := mem.ReadBank(bank, base)
			hi := mem.ReadBank(bank, base+1)
			colBit := px
			if s.Attr&0x20 == 0 { // no X flip: pixel 0 is bit 7
				colBit = 7 - px
			}
			c := ((hi>>byte(colBit))&1)<<1 | ((lo >> byte(colBit)) & 1)
			if c == 0 {
				continue
			}
			if s.Attr&0x80 != 0 && bgci[x] != 0 { // behind BG
				continue
			}
			if winner == nil || spriteBeats(*s, *winner, cgb) {
				winner = s
				winnerColor = c
			}
		}
		if winner != nil {
			ci[x] = winnerColor
			if cgb {
				pal[x] = winner.Attr & 0x07
			} else {
				pal[x] = (winner.Attr >> 4) & 0x01
			}
		}
	}
	return
}
