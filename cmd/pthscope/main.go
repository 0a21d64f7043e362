// Command pthscope is a visual + audio trace scope: it replays a
// recorded tap-hold trace through internal/pth.Engine and renders a
// timeline of presses/releases and the HID ops they produced, sounding a
// tone from each replayed register op until the next unregister or tap op
// (pitch chosen by code, see toneStream.Play).
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"os"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/maatthc/jgandert-qmk-modules/internal/keymap"
	"github.com/maatthc/jgandert-qmk-modules/internal/pth"
	"github.com/maatthc/jgandert-qmk-modules/internal/trace"
)

const (
	screenW = 640
	screenH = 240
	sampleRate = 44100
)

// timelineEvent is one plotted HID op, stamped with the input index it was
// produced by (so it can be laid out left-to-right against the trace).
type timelineEvent struct {
	op       trace.Op
	inputIdx int
}

type App struct {
	tr     trace.Trace
	events []timelineEvent
	cursor int

	audioCtx    *audio.Context
	audioPlayer *audio.Player
	tone        *toneStream

	paused bool
}

func main() {
	tracePath := flag.String("trace", "", "path to trace JSON file (required)")
	mute := flag.Bool("mute", false, "disable audio sonification")
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

	app := &App{tr: tr}
	app.replay()

	if !*mute {
		app.audioCtx = audio.NewContext(sampleRate)
		app.tone = newToneStream(sampleRate)
		app.audioPlayer, err = app.audioCtx.NewPlayer(app.tone)
		if err == nil {
			app.audioPlayer.Play()
		}
	}

	ebiten.SetWindowTitle(fmt.Sprintf("pthscope - %s", tr.Name))
	ebiten.SetWindowSize(screenW, screenH)
	if err := ebiten.RunGame(app); err != nil {
		log.Fatal(err)
	}
}

// replay drives the whole trace up front so the scope can scrub through a
// deterministic, already-computed timeline rather than stepping the engine
// live frame-by-frame.
func (a *App) replay() {
	km := keymap.New()
	var rec trace.Recorder
	eng := pth.NewEngine(pth.DefaultConfig(), pth.DefaultPolicies(), &rec, km, km, km, km, km.SideTable(8, 8))

	for i, in := range a.tr.Inputs {
		before := len(rec.Ops)
		eng.HandleEvent(in.ToEvent(), km.CapsWordOn())
		for _, op := range rec.Ops[before:] {
			a.events = append(a.events, timelineEvent{op: op, inputIdx: i})
		}
	}
}

func (a *App) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		a.paused = !a.paused
	}
	if !a.paused && a.cursor < len(a.events) {
		ev := a.events[a.cursor]
		if a.tone != nil {
			switch ev.op.Kind {
			case "register":
				a.tone.Play(ev.op.Code)
			case "unregister", "tap":
				a.tone.Stop()
			}
		}
		a.cursor++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		a.cursor = 0
	}
	return nil
}

func (a *App) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{R: 20, G: 20, B: 24, A: 255})

	n := len(a.tr.Inputs)
	if n == 0 {
		return
	}
	colW := float32(screenW) / float32(n)

	for i, in := range a.tr.Inputs {
		x := float32(i) * colW
		c := color.RGBA{R: 90, G: 90, B: 100, A: 255}
		if in.Pressed {
			c = color.RGBA{R: 70, G: 140, B: 210, A: 255}
		}
		ebitenutil.DrawRect(screen, float64(x), float64(screenH-20), float64(colW-1), 16, c)
	}

	for _, ev := range a.events[:min(a.cursor, len(a.events))] {
		x := float32(ev.inputIdx) * colW
		c := color.RGBA{R: 230, G: 200, B: 60, A: 255}
		switch ev.op.Kind {
		case "register":
			c = color.RGBA{R: 60, G: 200, B: 90, A: 255}
		case "unregister":
			c = color.RGBA{R: 200, G: 70, B: 70, A: 255}
		}
		ebitenutil.DrawRect(screen, float64(x), 10, float64(colW-1), 140, c)
	}

	ebitenutil.DebugPrint(screen, fmt.Sprintf("%s  [space] pause  [r] restart  step %d/%d", a.tr.Name, a.cursor, len(a.events)))
}

func (a *App) Layout(outsideWidth, outsideHeight int) (int, int) { return screenW, screenH }

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
