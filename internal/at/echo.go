package at

import "io"

// EchoSink receives diagnostic output in debug mode: the outgoing command
// as a whole line and every received byte as it arrives.
type EchoSink interface {
	WriteLine(line string) error
	WriteChar(c byte) error
}

// WriterEcho adapts w to an EchoSink with no buffering beyond single writes.
func WriterEcho(w io.Writer) EchoSink {
	return writerEcho{w: w}
}

type writerEcho struct {
	w io.Writer
}

func (e writerEcho) WriteLine(line string) error {
	_, err := io.WriteString(e.w, line+"\n")
	return err
}

func (e writerEcho) WriteChar(c byte) error {
	_, err := e.w.Write([]byte{c})
	return err
}
