package server

import (
	"fmt"
	"sync"
)

// request is a unit of work to be executed on the workspace goroutine.
type request struct {
	fn   func(*Workspace) any
	done chan result
}

type result struct {
	value any
	err   error
}

// Worker serializes all workspace access through a single goroutine.
// LSP handlers run concurrently; analyses are cached per document and
// must not race.
type Worker struct {
	ws       *Workspace
	requests chan request
	quit     chan struct{}
	stop     sync.Once
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(ws *Workspace) *Worker {
	w := &Worker{
		ws:       ws,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the workspace, recovering from panics.
func (w *Worker) execute(fn func(*Workspace) any) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("%v", r)
		}
	}()
	res.value = fn(w.ws)
	return res
}

// Do submits fn for execution on the workspace goroutine and blocks until
// it completes. A panic inside fn is returned as an error.
func (w *Worker) Do(fn func(*Workspace) any) (any, error) {
	req := request{fn: fn, done: make(chan result, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, fmt.Errorf("worker stopped")
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, fmt.Errorf("worker stopped")
	}
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stop.Do(func() { close(w.quit) })
}

// Workspace holds the latest analysis of every open document.
type Workspace struct {
	cfg  Config
	docs map[string]*Analysis
}

// NewWorkspace returns an empty workspace analysing under cfg.
func NewWorkspace(cfg Config) *Workspace {
	return &Workspace{cfg: cfg, docs: make(map[string]*Analysis)}
}

// Update re-analyses uri with its new text.
func (ws *Workspace) Update(uri, text string) *Analysis {
	a := Analyze([]byte(text), ws.cfg)
	ws.docs[uri] = a
	return a
}

// Get returns the current analysis of uri.
func (ws *Workspace) Get(uri string) (*Analysis, bool) {
	a, ok := ws.docs[uri]
	return a, ok
}

// Close forgets uri.
func (ws *Workspace) Close(uri string) {
	delete(ws.docs, uri)
}

// Len returns the number of open documents.
func (ws *Workspace) Len() int { return len(ws.docs) }
