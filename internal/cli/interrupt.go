package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler cancels a command on SIGINT/SIGTERM and tells the user
// what happened to their credit.
type InterruptHandler struct {
	writer      io.Writer
	cancel      context.CancelFunc
	interrupted bool
	charged     bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a new interrupt handler.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &InterruptHandler{writer: writer}
}

// HandleInterrupts returns a context cancelled on the first interrupt signal.
// Signal handling stops once the returned context is done.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			h.interrupt()
		case <-ctx.Done():
		}
	}()

	return ctx
}

// MarkCharged records that a credit was spent and kept, so an interrupt from
// now on happens after the critique was delivered.
func (h *InterruptHandler) MarkCharged() {
	h.mu.Lock()
	h.charged = true
	h.mu.Unlock()
}

// interrupt prints the farewell once and cancels the context.
func (h *InterruptHandler) interrupt() {
	h.mu.Lock()
	first := !h.interrupted
	h.interrupted = true
	charged := h.charged
	cancel := h.cancel
	h.mu.Unlock()

	if first {
		h.showInterruptMessage(charged)
	}
	if cancel != nil {
		cancel()
	}
}

func (h *InterruptHandler) showInterruptMessage(charged bool) {
	msg := "\n\n" + FormatWarning("Analysis interrupted!")
	if charged {
		msg += "\n" + FormatInfo("Your critique was already delivered, so the credit was kept.")
	} else {
		msg += "\n" + FormatInfo("Unfinished analyses are refunded automatically.")
	}
	msg += "\n" + FormatInfo("See you on the runway! "+MirrorIcon) + "\n"

	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted returns true if the process was interrupted.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
