package chat

import (
	"bufio"
	"log/slog"
	"net"
)

// StartOutboundWriter drains out onto conn, one line per message. It is the
// single writer for the connection; every other goroutine hands lines over
// through the channel. When done closes it flushes whatever is already
// queued and stops, so a terminal "Bye" is not lost. The returned channel
// closes when the writer has finished.
func StartOutboundWriter(conn net.Conn, out <-chan string, done <-chan struct{}, logger *slog.Logger) <-chan struct{} {
	if logger == nil {
		logger = slog.Default()
	}
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		w := bufio.NewWriter(conn)
		for {
			select {
			case msg := <-out:
				if !writeLine(w, msg, logger) {
					return
				}
			case <-done:
				for {
					select {
					case msg := <-out:
						if !writeLine(w, msg, logger) {
							return
						}
					default:
						_ = w.Flush()
						return
					}
				}
			}
		}
	}()
	return finished
}

// writeLine is best-effort: a broken connection stops the writer, it never
// tears down the session. The read loop notices the close on its own.
func writeLine(w *bufio.Writer, msg string, logger *slog.Logger) bool {
	if _, err := w.WriteString(msg + "\n"); err != nil {
		logger.Warn("write failed", "error", err)
		return false
	}
	if err := w.Flush(); err != nil {
		logger.Warn("write failed", "error", err)
		return false
	}
	return true
}
