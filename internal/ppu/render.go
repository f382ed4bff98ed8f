package ppu

// Read adapts the PPU itself to VRAMReader, always addressing VRAM bank 0
// (the bank the BG/window fetchers use on DMG and for CGB tile indices).
func (p *PPU) Read(addr uint16) byte { return p.RawVRAM(addr) }

// ReadBank adapts the PPU to cgbVRAMReader for the CGB-aware scanline
// helpers, exposing both VRAM banks.
func (p *PPU) ReadBank(bank int, addr uint16) byte { return p.RawVRAMBank(bank, addr) }

func bgMapBase(lcdc byte) uint16 {
	if lcdc&0x08 != 0 {
		return 0x9C00
	}
	return 0x9800
}

func winMapBase(lcdc byte) uint16 {
	if lcdc&0x40 != 0 {
		return 0x9C00
	}
	return 0x9800
}

// collectSprites scans OAM for up to 10 sprites visible on scanline ly, in
// OAM order, pre-resolving 8x16 tile/Y-flip selection down to an 8x8
// lookup so ComposeSpriteLineExt only ever sees 8-pixel-tall sprites.
func (p *PPU) collectSprites(ly byte) []Sprite {
	height := 8
	if p.lcdc&0x04 != 0 {
		height = 16
	}
	var out []Sprite
	for i := 0; i < 40 && len(out) < 10; i++ {
		base := i * 4
		oy := int(p.oam[base+0]) - 16
		ox := int(p.oam[base+1]) - 8
		tile := p.oam[base+2]
		attr := p.oam[base+3]
		if int(ly) < oy || int(ly) >= oy+height {
			continue
		}
		if height == 16 {
			subRow := int(ly) - oy
			effRow := subRow
			if attr&0x40 != 0 {
				effRow = 15 - subRow
			}
			tileIdx := tile &^ 0x01
			if effRow >= 8 {
				tileIdx |= 0x01
				effRow -= 8
			}
			out = append(out, Sprite{X: ox, Y: int(ly) - effRow, Tile: tileIdx, Attr: attr &^ 0x40, OAMIndex: i})
			continue
		}
		out = append(out, Sprite{X: ox, Y: oy, Tile: tile, Attr: attr, OAMIndex: i})
	}
	return out
}

func shadeDMG(pal, ci byte) (r, g, b byte) {
	shade := (pal >> (ci * 2)) & 0x03
	v := [4]byte{0xFF, 0xAA, 0x55, 0x00}[shade]
	return v, v, v
}

// renderLine composes BG, window, and sprites for scanline ly into the
// back framebuffer, using the register snapshot captured when this line
// entered mode 3 so mid-scanline register writes from the next line don't
// bleed backwards.
func (p *PPU) renderLine(ly byte) {
	lr := p.LineRegs(int(ly))
	if lr.LCDC&0x80 == 0 {
		return
	}
	if p.cgb {
		p.renderLineCGB(ly, lr)
		return
	}
	p.renderLineDMG(ly, lr)
}

func (p *PPU) renderLineDMG(ly byte, lr LineRegs) {
	var bgci [160]byte
	if lr.LCDC&0x01 != 0 {
		bgci = renderBGScanlineUsingFetcher(p, bgMapBase(lr.LCDC), lr.LCDC&0x10 != 0, lr.SCX, lr.SCY, ly)
	}
	windowVisible := lr.LCDC&0x20 != 0 && lr.LCDC&0x01 != 0 && ly >= lr.WY && lr.WX <= 166
	if windowVisible {
		winX := int(lr.WX) - 7
		if winX < 0 {
			winX = 0
		}
		wout := RenderWindowScanlineUsingFetcher(p, winMapBase(lr.LCDC), lr.LCDC&0x10 != 0, byte(winX), lr.WinLine)
		for x := winX; x < 160; x++ {
			bgci[x] = wout[x]
		}
	}

	var spriteCI, spritePal [160]byte
	if lr.LCDC&0x02 != 0 {
		sprites := p.collectSprites(ly)
		spriteCI, spritePal = ComposeSpriteLineExt(p, sprites, ly, bgci, false)
	}

	rowOff := int(ly) * 160 * 4
	for x := 0; x < 160; x++ {
		var r, g, b byte
		if spriteCI[x] != 0 {
			if spritePal[x] == 0 {
				r, g, b = shadeDMG(lr.OBP0, spriteCI[x])
			} else {
				r, g, b = shadeDMG(lr.OBP1, spriteCI[x])
			}
		} else {
			r, g, b = shadeDMG(lr.BGP, bgci[x])
		}
		idx := rowOff + x*4
		p.back[idx+0], p.back[idx+1], p.back[idx+2], p.back[idx+3] = r, g, b, 0xFF
	}
}

func (p *PPU) renderLineCGB(ly byte, lr LineRegs) {
	bgMap := bgMapBase(lr.LCDC)
	bgci, bgPal, bgPri := RenderBGScanlineCGB(p, bgMap, bgMap, true, lr.SCX, lr.SCY, ly)

	windowVisible := lr.LCDC&0x20 != 0 && ly >= lr.WY && lr.WX <= 166
	if windowVisible {
		winX := int(lr.WX) - 7
		if winX < 0 {
			winX = 0
		}
		winMap := winMapBase(lr.LCDC)
		wci, wpal, wpri := RenderWindowScanlineCGB(p, winMap, winMap, true, byte(winX), lr.WinLine)
		for x := winX; x < 160; x++ {
			bgci[x], bgPal[x], bgPri[x] = wci[x], wpal[x], wpri[x]
		}
	}

	var spriteCI, spritePal [160]byte
	if lr.LCDC&0x02 != 0 {
		sprites := p.collectSprites(ly)
		spriteCI, spritePal = ComposeSpriteLineExt(p, sprites, ly, bgci, true)
	}

	rowOff := int(ly) * 160 * 4
	for x := 0; x < 160; x++ {
		var r, g, b byte
		switch {
		case spriteCI[x] != 0 && !(bgPri[x] && bgci[x] != 0):
			r, g, b = p.OBJColorRGB(spritePal[x], spriteCI[x])
		default:
			r, g, b = p.BGColorRGB(bgPal[x], bgci[x])
		}
		idx := rowOff + x*4
		p.back[idx+0], p.back[idx+1], p.back[idx+2], p.back[idx+3] = r, g, b, 0xFF
	}
}
