package upload

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"gramport/internal/apperror"
	"gramport/internal/metrics"
)

// Sweeper reclaims abandoned sessions; Receiver triggers it when a new upload starts.
type Sweeper interface {
	Sweep(ctx context.Context) SweepResult
}

// Limits bounds what a single upload may send.
type Limits struct {
	ChunkSize     int64
	MaxUploadSize int64
}

// ChunkInput is one chunk as received from the transport.
type ChunkInput struct {
	SessionID string
	Index     int
	Total     int
	Size      int64 // declared payload size, negative when unknown
	Body      io.Reader
}

// Receipt reports the session state after a chunk was persisted.
type Receipt struct {
	SessionID string
	Complete  bool
	Index     int
	Total     int
	Present   int
}

// Receiver validates and persists one chunk per call.
type Receiver struct {
	store   *ChunkStore
	janitor Sweeper
	limits  Limits
	logger  logrus.FieldLogger
}

func NewReceiver(store *ChunkStore, janitor Sweeper, limits Limits, logger logrus.FieldLogger) *Receiver {
	return &Receiver{store: store, janitor: janitor, limits: limits, logger: logger}
}

// Receive persists one chunk and reports whether every index 0..total-1 is now present.
func (r *Receiver) Receive(ctx context.Context, in ChunkInput) (Receipt, error) {
	receipt, err := r.receive(ctx, in)
	if err != nil {
		kind := apperror.KindOf(err)
		if kind == "" {
			kind = apperror.StorageError
		}
		metrics.ChunksRejected.WithLabelValues(string(kind)).Inc()
	}
	return receipt, err
}

func (r *Receiver) receive(ctx context.Context, in ChunkInput) (Receipt, error) {
	id, err := NormalizeSessionID(in.SessionID)
	if err != nil {
		return Receipt{}, err
	}
	if err := r.validate(in); err != nil {
		return Receipt{}, err
	}

	log := r.logger.WithFields(logrus.Fields{
		"session_id":   id,
		"chunk_index":  in.Index,
		"total_chunks": in.Total,
	})

	if in.Index == 0 && r.janitor != nil {
		log.Info("new upload started, sweeping stale sessions")
		res := r.janitor.Sweep(ctx)
		if len(res.Errors) > 0 {
			log.WithField("failures", len(res.Errors)).Warn("stale session sweep finished with errors")
		}
	}

	if err := r.store.EnsureSession(id); err != nil {
		log.WithError(err).Error("failed to create chunk directory")
		return Receipt{}, apperror.Wrap(apperror.StorageError, "Failed to create chunk directory", err)
	}

	written, err := r.store.Put(ctx, id, in.Index, in.Body, r.limits.ChunkSize)
	if err != nil {
		if apperror.KindOf(err) != "" {
			return Receipt{}, err
		}
		log.WithError(err).Error("failed to save chunk")
		return Receipt{}, apperror.Wrap(apperror.StorageError, "Failed to save chunk", err)
	}

	if in.Size >= 0 && written != in.Size {
		log.WithFields(logrus.Fields{"declared": in.Size, "written": written}).Error("saved chunk size mismatch")
		if err := r.store.Delete(id, in.Index); err != nil {
			log.WithError(err).Warn("failed to drop mismatched chunk")
		}
		return Receipt{}, apperror.New(apperror.StorageError, "Chunk file size mismatch")
	}

	metrics.ChunksReceived.Inc()
	metrics.ChunkBytes.Add(float64(written))

	indices, err := r.store.Indices(id)
	if err != nil {
		return Receipt{}, apperror.Wrap(apperror.StorageError, "Failed to read chunk directory", err)
	}

	receipt := Receipt{
		SessionID: id,
		Complete:  isComplete(indices, in.Total),
		Index:     in.Index,
		Total:     in.Total,
		Present:   len(indices),
	}

	log.WithField("size", humanize.IBytes(uint64(written))).Debugf("saved chunk %d of %d", in.Index+1, in.Total)
	if receipt.Complete {
		metrics.SessionsCompleted.Inc()
		log.Info("all chunks received")
	}

	return receipt, nil
}

func (r *Receiver) validate(in ChunkInput) error {
	switch {
	case in.Body == nil:
		return apperror.New(apperror.InvalidInput, "No chunk received")
	case in.Total <= 0:
		return apperror.New(apperror.InvalidInput, "total_chunks must be positive")
	case in.Index < 0:
		return apperror.New(apperror.InvalidInput, "chunk_index must not be negative")
	case in.Index >= in.Total:
		return apperror.New(apperror.InvalidInput, "chunk_index must be lower than total_chunks")
	case in.Size == 0:
		return apperror.New(apperror.InvalidInput, "Received empty chunk")
	case in.Size > r.limits.ChunkSize:
		return apperror.New(apperror.InvalidInput,
			fmt.Sprintf("Chunk size %d exceeds maximum allowed size of %d", in.Size, r.limits.ChunkSize))
	}

	if r.limits.MaxUploadSize > 0 && r.limits.ChunkSize > 0 {
		// 除最后一片外都是满片，文件至少有 (total-1)*chunkSize+1 字节
		maxChunks := (r.limits.MaxUploadSize-1)/r.limits.ChunkSize + 1
		if int64(in.Total) > maxChunks {
			return apperror.New(apperror.InvalidInput, "Upload exceeds maximum allowed size")
		}
	}
	return nil
}

// isComplete reports whether the sorted, de-duplicated indices are exactly 0..total-1.
func isComplete(indices []int, total int) bool {
	if len(indices) != total {
		return false
	}
	for i, index := range indices {
		if index != i {
			return false
		}
	}
	return true
}
