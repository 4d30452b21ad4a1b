// Package stage drives an uploaded archive through extraction, parsing and
// import. Each call advances one phase; the caller polls with the phase it was
// told to run next. Nothing is kept in memory between calls: every path is
// derived from the session id.
package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"gramport/internal/apperror"
	"gramport/internal/extract"
	"gramport/internal/fileutil"
	"gramport/internal/importer"
	"gramport/internal/metrics"
	"gramport/internal/upload"
)

// Phase is the step a caller asks to run, or the step reported as next.
type Phase string

const (
	Start      Phase = "start"
	Extracting Phase = "extracting"
	Importing  Phase = "importing"
	Complete   Phase = "complete"
)

// ParsePhase maps the wire value to a runnable phase; empty means Start.
func ParsePhase(raw string) (Phase, error) {
	switch p := Phase(strings.TrimSpace(raw)); p {
	case "":
		return Start, nil
	case Start, Extracting, Importing:
		return p, nil
	default:
		return "", apperror.New(apperror.InvalidState, fmt.Sprintf("Unknown import status: %s", raw))
	}
}

// Result is reported back to the polling client.
type Result struct {
	Status   Phase           `json:"status"`
	Progress int             `json:"progress"`
	Message  string          `json:"message"`
	Stats    *importer.Stats `json:"stats,omitempty"`
}

type Assembler interface {
	Assemble(ctx context.Context, chunkDir, dest string) (upload.Assembly, error)
}

type Unpacker interface {
	Unpack(ctx context.Context, archive, dest string) (int, error)
}

type Extractor interface {
	Extract(ctx context.Context, root string) (*extract.Result, error)
}

type Importer interface {
	Import(ctx context.Context, records []extract.Record, root string) (importer.Stats, error)
}

// Driver runs one phase per call under the session lease.
type Driver struct {
	layout    upload.Layout
	assembler Assembler
	unpacker  Unpacker
	extractor Extractor
	importer  Importer
	logger    logrus.FieldLogger
}

func NewDriver(layout upload.Layout, assembler Assembler, unpacker Unpacker, extractor Extractor, imp Importer, logger logrus.FieldLogger) *Driver {
	return &Driver{
		layout:    layout,
		assembler: assembler,
		unpacker:  unpacker,
		extractor: extractor,
		importer:  imp,
		logger:    logger,
	}
}

// Advance runs phase for the session. On failure the phase is not advanced and
// the same call may be retried.
func (d *Driver) Advance(ctx context.Context, sessionID string, rawPhase string) (Result, error) {
	phase, err := ParsePhase(rawPhase)
	if err != nil {
		metrics.StageFailures.WithLabelValues("unknown", string(apperror.InvalidState)).Inc()
		return Result{}, err
	}

	id, err := upload.NormalizeSessionID(sessionID)
	if err != nil {
		metrics.StageFailures.WithLabelValues(string(phase), string(apperror.KindOf(err))).Inc()
		return Result{}, err
	}

	log := d.logger.WithFields(logrus.Fields{"session_id": id, "phase": string(phase)})
	started := time.Now()

	res, err := d.run(ctx, id, phase, log)

	metrics.StageDuration.WithLabelValues(string(phase)).Observe(time.Since(started).Seconds())
	if err != nil {
		kind := apperror.KindOf(err)
		if kind == "" {
			kind = apperror.StorageError
		}
		metrics.StageFailures.WithLabelValues(string(phase), string(kind)).Inc()
		log.WithError(err).Error("import step failed")
		return Result{}, err
	}

	log.WithField("next", string(res.Status)).Info(res.Message)
	return res, nil
}

func (d *Driver) run(ctx context.Context, id string, phase Phase, log logrus.FieldLogger) (Result, error) {
	if err := os.MkdirAll(d.layout.Root, 0o755); err != nil {
		return Result{}, apperror.Wrap(apperror.StorageError, "Failed to create temp directory", err)
	}

	lease, err := upload.AcquireLease(d.layout, id)
	if err != nil {
		return Result{}, err
	}

	switch phase {
	case Start:
		defer lease.Release()
		return d.start(ctx, id, log)
	case Extracting:
		defer lease.Release()
		return d.extracting(ctx, id)
	default:
		res, err := d.importing(ctx, id, log)
		if err != nil {
			lease.Release()
			return Result{}, err
		}
		if err := lease.Discard(); err != nil {
			log.WithError(err).Warn("failed to remove session lock")
		}
		return res, nil
	}
}

func (d *Driver) start(ctx context.Context, id string, log logrus.FieldLogger) (Result, error) {
	archive := d.layout.ArchivePath(id)
	assembly, err := d.assembler.Assemble(ctx, d.layout.SessionDir(id), archive)
	if err != nil {
		return Result{}, err
	}

	// 先解压到暂存目录，全部成功后才替换正式目录，失败时不留下半成品
	dest := d.layout.ExtractDir(id)
	staging := d.layout.ExtractStagingDir(id)
	if err := fileutil.RemoveTree(staging); err != nil {
		return Result{}, apperror.Wrap(apperror.StorageError, "Failed to clear extraction directory", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return Result{}, apperror.Wrap(apperror.StorageError, "Failed to create extraction directory", err)
	}

	files, err := d.unpacker.Unpack(ctx, archive, staging)
	if err != nil {
		if rmErr := fileutil.RemoveTree(staging); rmErr != nil {
			log.WithError(rmErr).WithField("path", staging).Warn("failed to remove partial extraction")
		}
		log.WithError(err).Warn("unpack failed")
		return Result{}, apperror.New(apperror.ExtractionError, "Failed to extract ZIP: "+errorText(err))
	}

	if err := fileutil.RemoveTree(dest); err != nil {
		fileutil.RemoveTree(staging)
		return Result{}, apperror.Wrap(apperror.StorageError, "Failed to clear extraction directory", err)
	}
	if err := os.Rename(staging, dest); err != nil {
		fileutil.RemoveTree(staging)
		return Result{}, apperror.Wrap(apperror.StorageError, "Failed to move extracted files", err)
	}

	log.WithFields(logrus.Fields{
		"chunks": assembly.Chunks,
		"size":   humanize.IBytes(uint64(assembly.Bytes)),
		"files":  files,
	}).Debug("archive unpacked")

	return Result{Status: Extracting, Progress: 33, Message: "Files extracted, analyzing content..."}, nil
}

func (d *Driver) extracting(ctx context.Context, id string) (Result, error) {
	res, err := d.extract(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if len(res.Records) == 0 {
		return Result{}, apperror.New(apperror.NoRecordsFound, "No valid posts found in the import file")
	}
	return Result{
		Status:   Importing,
		Progress: 66,
		Message:  fmt.Sprintf("Starting to import %d posts...", len(res.Records)),
	}, nil
}

func (d *Driver) importing(ctx context.Context, id string, log logrus.FieldLogger) (Result, error) {
	res, err := d.extract(ctx, id)
	if err != nil {
		return Result{}, err
	}

	stats, err := d.importer.Import(ctx, res.Records, d.layout.ExtractDir(id))
	if err != nil {
		return Result{}, apperror.Wrap(apperror.StorageError, "Import was interrupted", err)
	}

	d.cleanup(id, log)

	return Result{
		Status:   Complete,
		Progress: 100,
		Message: fmt.Sprintf("Import complete! %d %s imported, %d %s skipped.",
			stats.Imported, plural(stats.Imported, "post", "posts"),
			stats.Skipped, plural(stats.Skipped, "duplicate", "duplicates")),
		Stats: &stats,
	}, nil
}

func (d *Driver) extract(ctx context.Context, id string) (*extract.Result, error) {
	root := d.layout.ExtractDir(id)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, apperror.New(apperror.ExtractionError, "Upload has not been extracted yet")
	}
	return d.extractor.Extract(ctx, root)
}

// cleanup removes everything the session left under the temp root except the
// lock, which the caller discards.
func (d *Driver) cleanup(id string, log logrus.FieldLogger) {
	for _, path := range []string{
		d.layout.SessionDir(id),
		d.layout.ExtractDir(id),
		d.layout.ExtractStagingDir(id),
		d.layout.ArchivePath(id),
	} {
		if err := fileutil.RemoveTree(path); err != nil {
			log.WithError(err).WithField("path", path).Warn("failed to clean up session files")
		}
	}
}

func errorText(err error) string {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
