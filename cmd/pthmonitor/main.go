// Command pthmonitor is a terminal dashboard that replays a recorded
// tap-hold trace and scrolls a colored log of inputs and decisions,
// advancing one step per keypress or on a timer. It drives the terminal
// through tcell.Screen the same way gdamore-tcell's own demos do:
// NewScreen -> Init -> SetContent/Show in a loop -> Fini on exit.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/maatthc/jgandert-qmk-modules/internal/keymap"
	"github.com/maatthc/jgandert-qmk-modules/internal/pth"
	"github.com/maatthc/jgandert-qmk-modules/internal/trace"
)

type logLine struct {
	text  string
	style tcell.Style
}

func main() {
	tracePath := flag.String("trace", "", "path to trace JSON file (required)")
	auto := flag.Duration("auto", 0, "auto-advance one line every interval; 0 waits for keypress")
	flag.Parse()
	if *tracePath == "" {
		log.Fatal("-trace is required")
	}

	f, err := os.Open(*tracePath)
	if err != nil {
		log.Fatalf("open trace: %v", err)
	}
	tr, err := trace.Load(f)
	f.Close()
	if err != nil {
		log.Fatalf("load trace: %v", err)
	}

	lines := buildLog(tr)

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Fatalf("new screen: %v", err)
	}
	if err := screen.Init(); err != nil {
		log.Fatalf("init screen: %v", err)
	}
	defer screen.Fini()

	screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	screen.Clear()

	run(screen, tr.Name, lines, *auto)
}

// buildLog replays the trace up front and renders each input plus the HID
// ops it triggered as one styled line per event.
func buildLog(tr trace.Trace) []logLine {
	km := keymap.New()
	var rec trace.Recorder
	eng := pth.NewEngine(pth.DefaultConfig(), pth.DefaultPolicies(), &rec, km, km, km, km, km.SideTable(8, 8))

	var lines []logLine
	for _, in := range tr.Inputs {
		before := len(rec.Ops)
		eng.HandleEvent(in.ToEvent(), km.CapsWordOn())

		verb := "release"
		style := tcell.StyleDefault.Foreground(tcell.ColorGray)
		if in.Pressed {
			verb = "press  "
			style = tcell.StyleDefault.Foreground(tcell.ColorSilver)
		}
		lines = append(lines, logLine{
			text:  fmt.Sprintf("t=%-5d %s (%d,%d)", in.TimeMS, verb, in.Row, in.Col),
			style: style,
		})
		for _, op := range rec.Ops[before:] {
			s := tcell.StyleDefault.Foreground(tcell.ColorYellow)
			switch op.Kind {
			case "register":
				s = tcell.StyleDefault.Foreground(tcell.ColorGreen)
			case "unregister":
				s = tcell.StyleDefault.Foreground(tcell.ColorRed)
			}
			lines = append(lines, logLine{
				text:  fmt.Sprintf("        -> %-10s %#04x", op.Kind, op.Code),
				style: s,
			})
		}
	}
	return lines
}

func run(screen tcell.Screen, title string, lines []logLine, auto time.Duration) {
	visible := 0
	_, h := screen.Size()
	redraw := func() {
		screen.Clear()
		drawStr(screen, 0, 0, tcell.StyleDefault.Bold(true), fmt.Sprintf("pthmonitor - %s", title))
		top := 0
		if visible > h-2 {
			top = visible - (h - 2)
		}
		for row := 0; row < h-2 && top+row < visible; row++ {
			drawStr(screen, 0, row+2, lines[top+row].style, lines[top+row].text)
		}
		screen.Show()
	}

	events := make(chan tcell.Event, 8)
	go func() {
		for {
			events <- screen.PollEvent()
		}
	}()

	var ticker *time.Ticker
	var tickC <-chan time.Time
	if auto > 0 {
		ticker = time.NewTicker(auto)
		tickC = ticker.C
		defer ticker.Stop()
	}

	redraw()
	for {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case *tcell.EventResize:
				_, h = screen.Size()
				screen.Sync()
				redraw()
			case *tcell.EventKey:
				switch e.Key() {
				case tcell.KeyEscape, tcell.KeyCtrlC:
					return
				case tcell.KeyRune:
					if e.Rune() == 'q' {
						return
					}
				}
				if visible < len(lines) {
					visible++
				}
				redraw()
			}
		case <-tickC:
			if visible < len(lines) {
				visible++
				redraw()
			}
		}
	}
}

func drawStr(screen tcell.Screen, x, y int, style tcell.Style, s string) {
	for i, r := range s {
		screen.SetContent(x+i, y, r, nil, style)
	}
}
