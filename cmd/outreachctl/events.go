package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/leadnexconnect/campaign-engine/internal/queue"
)

// eventPrinter writes one JSON line per event. Consumers of several queues
// share it.
type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *eventPrinter) handle(_ context.Context, event queue.Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.out.Write(append(line, '\n'))
	return err
}
