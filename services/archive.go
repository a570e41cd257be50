package services

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lab-registry/config"
)

// ArchiveProgress reports how far an archive export has come. Archives over
// many large attachments are not a single opaque call; the packager invokes
// the callback after every streamed entry.
type ArchiveProgress struct {
	Items int
	Bytes int64
}

// ArchiveService bundles a snapshot document together with the publication
// attachments it references into one zip archive, and unpacks such archives
// back into the database and the upload directory.
type ArchiveService struct {
	Config   *config.Config
	Exporter *ExportService
	Importer *ImportService
	Logger   *zap.Logger
}

// NewArchiveService creates a new instance of the ArchiveService.
func NewArchiveService(cfg *config.Config, exporter *ExportService, importer *ImportService, logger *zap.Logger) *ArchiveService {
	return &ArchiveService{Config: cfg, Exporter: exporter, Importer: importer, Logger: logger}
}

// Export writes the archive to w. It returns false without writing anything
// when there is no export content at all. An attachment that cannot be read
// from disk never aborts the export: the entry is dropped and the path
// attribute scrubbed from the snapshot document.
func (s *ArchiveService) Export(ctx context.Context, w io.Writer, progress func(ArchiveProgress)) (bool, error) {
	doc, err := s.Exporter.Export(ctx)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}

	// Decide which attachments are readable before the snapshot entry is
	// written, so scrubbed paths never appear in the document.
	type attachment struct{ path string }
	var attachments []attachment
	seen := make(map[string]bool)
	for _, bag := range doc.Publications {
		for _, field := range attachmentFields {
			path, ok := asString(bag[field])
			if !ok || path == "" {
				continue
			}
			abs := filepath.Join(s.Config.UploadDir, filepath.FromSlash(path))
			if _, err := os.Stat(abs); err != nil {
				s.Logger.Warn("Scrubbing unreadable attachment from export",
					zap.String("path", path), zap.Error(err))
				delete(bag, field)
				continue
			}
			if !seen[path] {
				seen[path] = true
				attachments = append(attachments, attachment{path: path})
			}
		}
	}

	zw := zip.NewWriter(w)
	entry, err := zw.Create(SnapshotEntryName)
	if err != nil {
		return false, err
	}
	if err := json.NewEncoder(entry).Encode(doc); err != nil {
		return false, err
	}

	prog := ArchiveProgress{Items: 1}
	for _, att := range attachments {
		n, err := s.streamAttachment(zw, att.path)
		if err != nil {
			// The file vanished between the readability check and the copy;
			// treat it like any other unreadable attachment.
			s.Logger.Warn("Attachment unreadable while streaming, dropped",
				zap.String("path", att.path), zap.Error(err))
			continue
		}
		prog.Items++
		prog.Bytes += n
		if progress != nil {
			progress(prog)
		}
	}

	if err := zw.Close(); err != nil {
		return false, err
	}
	s.Logger.Info("Archive export completed",
		zap.Int("entries", prog.Items), zap.Int64("attachment_bytes", prog.Bytes))
	return true, nil
}

func (s *ArchiveService) streamAttachment(zw *zip.Writer, relPath string) (int64, error) {
	src, err := os.Open(filepath.Join(s.Config.UploadDir, filepath.FromSlash(relPath)))
	if err != nil {
		return 0, err
	}
	defer src.Close()

	entry, err := zw.Create(relPath)
	if err != nil {
		return 0, err
	}
	return io.Copy(entry, src)
}

// Import streams the archive once: the snapshot entry goes to the importer,
// every other entry to a per-run staging directory. Attachment relocation
// happens strictly after entity import, when every publication has its
// persisted id.
func (s *ArchiveService) Import(ctx context.Context, r io.ReaderAt, size int64) (*ImportReport, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	staging := filepath.Join(s.Config.StagingDir, uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	var snapshot []byte
	for _, f := range zr.File {
		name := filepath.ToSlash(f.Name)
		if name == SnapshotEntryName {
			snapshot, err = readZipEntry(f)
			if err != nil {
				return nil, err
			}
			continue
		}
		if strings.Contains(name, "..") {
			s.Logger.Warn("Ignoring archive entry with unsafe path", zap.String("name", f.Name))
			continue
		}
		if err := extractZipEntry(f, filepath.Join(staging, filepath.FromSlash(name))); err != nil {
			s.Logger.Warn("Failed to stage archive attachment, continuing",
				zap.String("name", f.Name), zap.Error(err))
		}
	}
	if snapshot == nil {
		return nil, fmt.Errorf("%w: archive has no %s entry", ErrMalformedDocument, SnapshotEntryName)
	}

	doc, err := ParseDocument(snapshot)
	if err != nil {
		return nil, err
	}
	report, err := s.Importer.Import(ctx, doc)
	if err != nil {
		return nil, err
	}

	for _, att := range report.Attachments {
		if err := s.relocateAttachment(ctx, staging, att); err != nil {
			s.Logger.Warn("Failed to relocate attachment, continuing",
				zap.String("archive_path", att.ArchivePath), zap.Error(err))
		}
	}
	return report, nil
}

// relocateAttachment moves one staged file to its final, entity-id-derived
// location and substitutes the new path into the persisted publication.
func (s *ArchiveService) relocateAttachment(ctx context.Context, staging string, att PendingAttachment) error {
	staged := filepath.Join(staging, filepath.FromSlash(att.ArchivePath))
	if _, err := os.Stat(staged); err != nil {
		return err
	}

	ext := filepath.Ext(att.ArchivePath)
	var finalRel string
	switch att.Field {
	case "pathToAward":
		finalRel = fmt.Sprintf("awards/publication_%d%s", att.Publication.ID, ext)
	default:
		finalRel = fmt.Sprintf("pdfs/publication_%d%s", att.Publication.ID, ext)
	}
	finalAbs := filepath.Join(s.Config.UploadDir, filepath.FromSlash(finalRel))
	if err := copyFile(staged, finalAbs); err != nil {
		return err
	}

	switch att.Field {
	case "pathToAward":
		att.Publication.PathToAward = finalRel
	default:
		att.Publication.PathToPDF = finalRel
	}
	return s.Importer.Store.SavePublication(ctx, att.Publication)
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func extractZipEntry(f *zip.File, dst string) error {
	if f.FileInfo().IsDir() {
		return os.MkdirAll(dst, 0o755)
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return err
}

// copyFile copies src to dst, creating the destination directory when it does
// not exist yet.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
