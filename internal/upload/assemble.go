package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"

	"gramport/internal/apperror"
)

// Assembly describes a reassembled archive.
type Assembly struct {
	Chunks int
	Bytes  int64
}

// Assembler concatenates a session's chunks, in numeric index order, into one archive.
type Assembler struct {
	logger logrus.FieldLogger
}

func NewAssembler(logger logrus.FieldLogger) *Assembler {
	return &Assembler{logger: logger}
}

// Assemble writes chunk-0..chunk-n-1 from chunkDir into dest and checks that dest
// is a readable ZIP. Source chunks are left in place so a failed run can be retried.
func (a *Assembler) Assemble(ctx context.Context, chunkDir, dest string) (Assembly, error) {
	indices, err := chunkIndices(chunkDir)
	if err != nil {
		return Assembly{}, apperror.Wrap(apperror.AssemblyError, "Failed to open chunk directory", err)
	}
	if len(indices) == 0 {
		return Assembly{}, apperror.New(apperror.AssemblyError, "No chunks found for this upload")
	}
	sort.Ints(indices)
	for i, index := range indices {
		if index != i {
			return Assembly{}, apperror.New(apperror.AssemblyError, fmt.Sprintf("Missing chunk %d", i))
		}
	}

	log := a.logger.WithFields(logrus.Fields{"chunks": len(indices), "dest": dest})
	log.Info("combining chunks")

	part := dest + partSuffix
	_ = os.Remove(part)
	out, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Assembly{}, apperror.Wrap(apperror.AssemblyError, "Failed to create final file", err)
	}
	defer out.Close()

	var total int64
	for _, index := range indices {
		if err := ctx.Err(); err != nil {
			out.Close()
			os.Remove(part)
			return Assembly{}, apperror.Wrap(apperror.AssemblyError, "Assembly cancelled", err)
		}

		data, err := os.ReadFile(filepath.Join(chunkDir, chunkName(index)))
		if err != nil {
			out.Close()
			os.Remove(part)
			return Assembly{}, apperror.Wrap(apperror.AssemblyError, "Failed to read chunk file", err)
		}
		if _, err := out.Write(data); err != nil {
			out.Close()
			os.Remove(part)
			return Assembly{}, apperror.Wrap(apperror.AssemblyError, "Failed to write to final file", err)
		}
		total += int64(len(data))
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(part)
		return Assembly{}, apperror.Wrap(apperror.AssemblyError, "Failed to write to final file", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		return Assembly{}, apperror.Wrap(apperror.AssemblyError, "Failed to write to final file", err)
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return Assembly{}, apperror.Wrap(apperror.AssemblyError, "Final file was not created", err)
	}

	if err := ValidateArchive(dest); err != nil {
		log.WithError(err).Error("invalid ZIP file created")
		os.Remove(dest)
		return Assembly{}, err
	}

	log.WithField("size", humanize.IBytes(uint64(total))).Info("archive assembled")
	return Assembly{Chunks: len(indices), Bytes: total}, nil
}

// ValidateArchive opens path as a ZIP and reads its central directory.
func ValidateArchive(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return apperror.Wrap(apperror.CorruptArchive, "Invalid ZIP file created", err)
	}
	return r.Close()
}
