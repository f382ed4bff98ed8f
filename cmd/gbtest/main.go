// Command gbtest runs a ROM headlessly for automated testing: either as a
// serial-output test harness (the usual shape of Blargg/mooneye-style test
// ROMs, which report PASS/FAIL over the link port) or as a fixed-frame-count
// run that checksums the final framebuffer for regression comparison.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fenrir-emu/goboy/internal/cart"
	"github.com/fenrir-emu/goboy/internal/cpu"
	"github.com/fenrir-emu/goboy/internal/mem"
)

const cyclesPerFrame = 70224

func main() {
	romPath := flag.String("rom", "", "path to ROM (.gb/.gbc)")
	bootPath := flag.String("bootrom", "", "optional boot ROM to run from 0x0000 until it hands off")
	steps := flag.Int("steps", 5_000_000, "max CPU instructions to run in serial-harness mode")
	trace := flag.Bool("trace", false, "print a PC/opcode/register line per instruction")
	until := flag.String("until", "Passed", "stop when serial output contains this substring (case-insensitive); empty to disable")
	auto := flag.Bool("auto", false, "auto-detect 'Passed' / 'Failed N tests' in serial output, exit 0/1 accordingly")
	timeout := flag.Duration("timeout", 0, "wall-clock timeout for serial-harness mode (e.g. 30s); 0 disables")
	traceOnFail := flag.Bool("traceOnFail", false, "on -auto failure, dump a recent instruction trace window")
	traceWindow := flag.Int("traceWindow", 200, "instructions retained for -traceOnFail")
	serialWindow := flag.Int("serialWindow", 8192, "serial bytes retained for failure diagnostics")

	headless := flag.Bool("headless", false, "run a fixed number of frames and checksum the framebuffer, instead of the serial harness")
	frames := flag.Int("frames", 300, "frames to run in -headless mode")
	outPNG := flag.String("outpng", "", "write the final framebuffer to a PNG at this path")
	expect := flag.String("expect", "", "assert the final framebuffer CRC32 (hex) in -headless mode")
	flag.Parse()

	if *romPath == "" {
		log.Fatal("-rom is required")
	}
	rom, err := os.ReadFile(*romPath)
	if err != nil {
		log.Fatalf("read rom: %v", err)
	}
	var boot []byte
	if *bootPath != "" {
		boot, err = os.ReadFile(*bootPath)
		if err != nil {
			log.Fatalf("read bootrom: %v", err)
		}
	}

	header, err := cart.ParseHeader(rom)
	if err != nil {
		log.Fatalf("parse header: %v", err)
	}
	log.Printf("ROM: %q type=%s banks=%d ram=%dB cgb=%v", header.Title, header.CartTypeStr, header.ROMBanks, header.RAMSizeBytes, header.CGBFlag&0x80 != 0)

	m := mem.New(cart.NewCartridge(rom), header.CGBFlag&0x80 != 0)
	if len(boot) >= 0x100 {
		m.SetBootROM(boot)
	}
	c := cpu.New(m)
	if len(boot) >= 0x100 {
		c.SetPC(0x0000)
	} else if header.CGBFlag&0x80 != 0 {
		c.ResetCGBNoBoot()
		m.ApplyPostBootIO()
	} else {
		c.ResetNoBoot()
		m.ApplyPostBootIO()
	}

	if *headless {
		runHeadless(m, c, *frames, *outPNG, *expect)
		return
	}
	runSerialHarness(m, c, *steps, *trace, *until, *auto, *timeout, *traceOnFail, *traceWindow, *serialWindow)
}

func stepFrame(m *mem.Memory, c *cpu.CPU) {
	start := m.TCycles()
	for m.TCycles()-start < cyclesPerFrame {
		c.Step()
	}
}

func runHeadless(m *mem.Memory, c *cpu.CPU, frames int, pngPath, expectCRC string) {
	if frames <= 0 {
		frames = 1
	}
	start := time.Now()
	for i := 0; i < frames; i++ {
		stepFrame(m, c)
	}
	dur := time.Since(start)

	fb := m.PPU().Framebuffer()
	crc := crc32.ChecksumIEEE(fb)
	fps := float64(frames) / dur.Seconds()
	log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x", frames, dur.Truncate(time.Millisecond), fps, crc)

	if pngPath != "" {
		if err := saveFramePNG(fb, 160, 144, pngPath); err != nil {
			log.Fatalf("write PNG: %v", err)
		}
		log.Printf("wrote %s", pngPath)
	}

	if expectCRC != "" {
		want := strings.TrimPrefix(strings.ToLower(expectCRC), "0x")
		got := fmt.Sprintf("%08x", crc)
		if got != want {
			log.Fatalf("checksum mismatch: got %s, want %s", got, want)
		}
	}
}

func saveFramePNG(pix []byte, w, h int, path string) error {
	img := &image.RGBA{
		Pix:    append([]byte(nil), pix...),
		Stride: 4 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

type traceEntry struct {
	pc                     uint16
	op                     byte
	cyc                    int
	a, f, b, c, d, e, h, l byte
	sp                     uint16
	ime                    bool
	ifreg, ie              byte
}

func (te traceEntry) String() string {
	return fmt.Sprintf("PC=%04X OP=%02X cyc=%d A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X IME=%t IF=%02X IE=%02X",
		te.pc, te.op, te.cyc, te.a, te.f, te.b, te.c, te.d, te.e, te.h, te.l, te.sp, te.ime, te.ifreg, te.ie)
}

func runSerialHarness(m *mem.Memory, c *cpu.CPU, steps int, trace bool, until string, auto bool, timeout time.Duration, traceOnFail bool, traceWindowN, serialWindowN int) {
	var ser bytes.Buffer
	if serialWindowN < 256 {
		serialWindowN = 256
	}
	serRing := make([]byte, serialWindowN)
	serRingIdx, serRingFill := 0, 0
	wantSerial := until != "" || auto
	m.SetSerialWriter(func(b byte) {
		if !wantSerial {
			return
		}
		fmt.Printf("%c", b)
		ser.WriteByte(b)
		serRing[serRingIdx] = b
		serRingIdx = (serRingIdx + 1) % serialWindowN
		if serRingFill < serialWindowN {
			serRingFill++
		}
	})

	start := time.Now()
	var deadline time.Time
	if timeout > 0 {
		deadline = start.Add(timeout)
	}
	failRe := regexp.MustCompile(`(?i)failed\s+(\d+)\s+tests?`)
	stageRe := regexp.MustCompile(`\b(\d{2}:\d{2})\b`)
	lastStage := ""

	if traceWindowN <= 0 {
		traceWindowN = 1
	}
	ring := make([]traceEntry, traceWindowN)
	ringIdx, ringFill := 0, 0
	var cycles int

	dumpTrace := func() {
		if !traceOnFail || ringFill == 0 {
			return
		}
		fmt.Printf("\n--- recent trace (last %d instructions) ---\n", ringFill)
		startIdx := (ringIdx - ringFill + traceWindowN) % traceWindowN
		for j := 0; j < ringFill; j++ {
			fmt.Println(ring[(startIdx+j)%traceWindowN])
		}
		fmt.Printf("--- end trace ---\n")
	}
	dumpSerial := func() {
		if serRingFill == 0 {
			return
		}
		fmt.Printf("\n--- recent serial (last %d bytes) ---\n", serRingFill)
		startIdx := (serRingIdx - serRingFill + serialWindowN) % serialWindowN
		for j := 0; j < serRingFill; j++ {
			fmt.Printf("%c", serRing[(startIdx+j)%serialWindowN])
		}
		fmt.Printf("\n--- end serial ---\n")
	}
	done := func(n int) {
		fmt.Printf("\nDone: steps=%d cycles~=%d elapsed=%s\n", n, cycles, time.Since(start).Truncate(time.Millisecond))
	}

	for i := 0; i < steps; i++ {
		pc := c.PC
		var op byte
		if trace || traceOnFail {
			op = m.Peek(pc)
		}
		before := m.TCycles()
		c.Step()
		cyc := int(m.TCycles() - before)
		cycles += cyc

		if trace || traceOnFail {
			te := traceEntry{
				pc: pc, op: op, cyc: cyc,
				a: c.A, f: c.F, b: c.B, c: c.C, d: c.D, e: c.E, h: c.H, l: c.L,
				sp: c.SP, ime: c.IME, ifreg: m.PendingInterrupts(), ie: m.IE(),
			}
			if trace {
				fmt.Println(te)
			}
			if traceOnFail {
				ring[ringIdx] = te
				ringIdx = (ringIdx + 1) % traceWindowN
				if ringFill < traceWindowN {
					ringFill++
				}
			}
		}

		if auto {
			s := ser.String()
			if mm := stageRe.FindAllString(s, -1); len(mm) > 0 {
				lastStage = mm[len(mm)-1]
			}
			if strings.Contains(strings.ToLower(s), "passed") {
				fmt.Printf("\nDetected PASS in serial output.\n")
				if lastStage != "" {
					fmt.Printf("Last stage seen: %s\n", lastStage)
				}
				done(i + 1)
				os.Exit(0)
			}
			if mm := failRe.FindStringSubmatch(s); mm != nil {
				fmt.Printf("\nDetected %s in serial output.\n", mm[0])
				if lastStage != "" {
					fmt.Printf("Last stage seen: %s\n", lastStage)
				}
				dumpTrace()
				dumpSerial()
				done(i + 1)
				os.Exit(1)
			}
		} else if until != "" {
			if strings.Contains(strings.ToLower(ser.String()), strings.ToLower(until)) {
				fmt.Printf("\nDetected %q in serial output.\n", until)
				done(i + 1)
				return
			}
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			fmt.Printf("\nTimeout after %s.\n", time.Since(start).Truncate(time.Millisecond))
			done(i + 1)
			os.Exit(2)
		}
	}
	done(steps)
}
