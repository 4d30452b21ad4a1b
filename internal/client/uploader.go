package client

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"gramport/internal/importer"
	"gramport/internal/stage"
)

// EventKind tells a progress callback what happened.
type EventKind string

const (
	EventChunk EventKind = "chunk"
	EventStage EventKind = "stage"
)

// Event is reported after each uploaded chunk and each finished phase.
type Event struct {
	Kind     EventKind
	Chunk    int // 1-based
	Chunks   int
	Progress int
	Message  string
}

// Summary describes a finished upload and import.
type Summary struct {
	SessionID string         `json:"session_id"`
	Bytes     int64          `json:"bytes"`
	Chunks    int            `json:"chunks"`
	Stats     importer.Stats `json:"stats"`
	Message   string         `json:"message"`
}

// Uploader splits a local archive into chunks, uploads them in order and then
// walks the import phases until the server reports completion.
type Uploader struct {
	Client *Client
	// ChunkSize overrides the server's chunk size when positive and smaller.
	ChunkSize int64
	// Progress, when set, receives an Event for every step.
	Progress func(Event)
	// NewSessionID is replaced in tests.
	NewSessionID func() string
}

// Run uploads path and imports it.
func (u *Uploader) Run(ctx context.Context, path string) (Summary, error) {
	if u == nil || u.Client == nil {
		return Summary{}, fmt.Errorf("uploader has no client")
	}

	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Summary{}, err
	}
	if !info.Mode().IsRegular() {
		return Summary{}, fmt.Errorf("%s is not a regular file", path)
	}
	size := info.Size()
	if size == 0 {
		return Summary{}, fmt.Errorf("%s is empty", path)
	}

	cfg, err := u.Client.Config(ctx)
	if err != nil {
		return Summary{}, err
	}
	chunkSize := cfg.ChunkSize
	if u.ChunkSize > 0 && (chunkSize <= 0 || u.ChunkSize < chunkSize) {
		chunkSize = u.ChunkSize
	}
	if chunkSize <= 0 {
		return Summary{}, fmt.Errorf("server reported invalid chunk size %d", cfg.ChunkSize)
	}
	if cfg.MaxUploadSize > 0 && size > cfg.MaxUploadSize {
		return Summary{}, fmt.Errorf("file is %d bytes, server accepts at most %d", size, cfg.MaxUploadSize)
	}

	sessionID := u.sessionID()
	total := int((size + chunkSize - 1) / chunkSize)

	buf := make([]byte, chunkSize)
	var done bool
	for i := 0; i < total; i++ {
		n, err := f.ReadAt(buf, int64(i)*chunkSize)
		if err != nil && err != io.EOF {
			return Summary{}, fmt.Errorf("read chunk %d: %w", i, err)
		}
		res, err := u.Client.UploadChunk(ctx, sessionID, i, total, buf[:n])
		if err != nil {
			return Summary{}, err
		}
		done = res.Complete
		u.report(Event{
			Kind:     EventChunk,
			Chunk:    i + 1,
			Chunks:   total,
			Progress: (i + 1) * 100 / total,
			Message:  fmt.Sprintf("Uploading chunk %d of %d", i+1, total),
		})
	}
	if !done {
		return Summary{}, fmt.Errorf("server did not confirm upload %s as complete", sessionID)
	}

	res, err := u.advance(ctx, sessionID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{SessionID: sessionID, Bytes: size, Chunks: total, Message: res.Message}
	if res.Stats != nil {
		summary.Stats = *res.Stats
	}
	return summary, nil
}

// advance follows the phase the server names next. Every phase moves forward,
// so the loop is bounded by the number of phases.
func (u *Uploader) advance(ctx context.Context, sessionID string) (stage.Result, error) {
	phase := stage.Start
	for step := 0; step < 3; step++ {
		res, err := u.Client.Advance(ctx, sessionID, phase)
		if err != nil {
			return stage.Result{}, err
		}
		u.report(Event{Kind: EventStage, Progress: res.Progress, Message: res.Message})
		if res.Status == stage.Complete {
			return res, nil
		}
		if res.Status == phase {
			return stage.Result{}, fmt.Errorf("import did not advance past %s", phase)
		}
		phase = res.Status
	}
	return stage.Result{}, fmt.Errorf("import did not complete after %s", phase)
}

func (u *Uploader) sessionID() string {
	if u.NewSessionID != nil {
		return u.NewSessionID()
	}
	return uuid.NewString()
}

func (u *Uploader) report(ev Event) {
	if u.Progress != nil {
		u.Progress(ev)
	}
}
