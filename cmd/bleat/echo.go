package main

import (
	"io"

	"github.com/fatih/color"
	"github.com/shaunagostinho/bleat/internal/at"
)

// colorEcho mirrors traffic to w: outgoing commands as "> cmd" lines in
// cyan, received bytes as they arrive.
type colorEcho struct {
	at.EchoSink
	w   io.Writer
	out *color.Color
}

func newEcho(w io.Writer, useColor bool) at.EchoSink {
	out := color.New(color.FgCyan)
	if !useColor {
		out.DisableColor()
	}
	return &colorEcho{EchoSink: at.WriterEcho(w), w: w, out: out}
}

func (e *colorEcho) WriteLine(line string) error {
	_, err := e.out.Fprintln(e.w, "> "+line)
	return err
}
