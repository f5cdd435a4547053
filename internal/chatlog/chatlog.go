// Package chatlog appends user chat transcripts to dated log files through a
// bounded queue, so transcript I/O can never stall the turn pipeline.
package chatlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const queueCapacity = 10000

// Writer is the background transcript writer. Enqueue never blocks: when the
// queue is full the entry is dropped and the drop is reported to the
// onDrop callback.
type Writer struct {
	dir    string
	queue  chan string
	onDrop func()

	mu      sync.Mutex
	file    *os.File
	fileDay string

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a transcript writer logging into dir. onDrop may be nil.
func New(dir string, onDrop func()) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chat log directory: %w", err)
	}

	w := &Writer{
		dir:    dir,
		queue:  make(chan string, queueCapacity),
		onDrop: onDrop,
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Log queues one transcript line. Fails soft when the queue is full.
func (w *Writer) Log(clientIP, botName, message string) {
	line := fmt.Sprintf("%s - IP: %s | bot: %s | message: %s\n",
		time.Now().Format("2006-01-02 15:04:05"), clientIP, botName, message)

	select {
	case w.queue <- line:
	default:
		if w.onDrop != nil {
			w.onDrop()
		}
	}
}

// Close drains queued lines and stops the writer.
func (w *Writer) Close() {
	close(w.done)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	for {
		select {
		case line := <-w.queue:
			w.write(line)
		case <-w.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case line := <-w.queue:
					w.write(line)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(line string) {
	f, err := w.currentFile()
	if err != nil {
		slog.Error("chat log open failed", "error", err)
		return
	}
	if _, err := f.WriteString(line); err != nil {
		slog.Error("chat log write failed", "error", err)
	}
}

// currentFile returns the file for today's date, rolling over at midnight.
func (w *Writer) currentFile() (*os.File, error) {
	day := time.Now().Format("20060102")

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil && w.fileDay == day {
		return w.file, nil
	}
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	path := filepath.Join(w.dir, "user_chat_"+day+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w.file = f
	w.fileDay = day
	return f, nil
}
