package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lab-registry/config"
	"lab-registry/models"
)

func newArchiveService(t *testing.T, store *fakeStore) *ArchiveService {
	t.Helper()
	cfg := &config.Config{
		UploadDir:  t.TempDir(),
		StagingDir: t.TempDir(),
	}
	logger := zap.NewNop()
	return NewArchiveService(cfg, NewExportService(store, logger), NewImportService(store, logger), logger)
}

func writeUpload(t *testing.T, cfg *config.Config, relPath, content string) {
	t.Helper()
	abs := filepath.Join(cfg.UploadDir, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func zipEntryNames(t *testing.T, data []byte) map[string]bool {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = true
	}
	return names
}

func TestArchiveExportEmptyStore(t *testing.T) {
	svc := newArchiveService(t, newFakeStore())
	var buf bytes.Buffer
	wrote, err := svc.Export(context.Background(), &buf, nil)
	require.NoError(t, err)
	assert.False(t, wrote)
	assert.Zero(t, buf.Len())
}

func TestArchiveExportBundlesAttachments(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := newArchiveService(t, store)

	require.NoError(t, store.SavePublication(ctx, &models.Publication{
		Title: "With PDF", Year: 2023, PathToPDF: "pdfs/study.pdf",
	}))
	writeUpload(t, svc.Config, "pdfs/study.pdf", "%PDF-1.4 fake")

	var progressCalls []ArchiveProgress
	var buf bytes.Buffer
	wrote, err := svc.Export(ctx, &buf, func(p ArchiveProgress) {
		progressCalls = append(progressCalls, p)
	})
	require.NoError(t, err)
	require.True(t, wrote)

	names := zipEntryNames(t, buf.Bytes())
	assert.True(t, names[SnapshotEntryName])
	assert.True(t, names["pdfs/study.pdf"])

	require.Len(t, progressCalls, 1)
	assert.Equal(t, 2, progressCalls[0].Items)
	assert.Greater(t, progressCalls[0].Bytes, int64(0))
}

// An attachment path pointing at a missing file is scrubbed from the snapshot
// document instead of failing the export.
func TestArchiveExportScrubsDanglingAttachments(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := newArchiveService(t, store)

	require.NoError(t, store.SavePublication(ctx, &models.Publication{
		Title: "Dangling Award", Year: 2020, PathToAward: "awards/missing.pdf",
	}))

	var buf bytes.Buffer
	wrote, err := svc.Export(ctx, &buf, nil)
	require.NoError(t, err)
	require.True(t, wrote)

	names := zipEntryNames(t, buf.Bytes())
	assert.True(t, names[SnapshotEntryName])
	assert.False(t, names["awards/missing.pdf"])

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var doc Document
	for _, f := range zr.File {
		if f.Name != SnapshotEntryName {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		require.NoError(t, json.NewDecoder(rc).Decode(&doc))
		rc.Close()
	}
	require.Len(t, doc.Publications, 1)
	_, hasAward := doc.Publications[0]["pathToAward"]
	assert.False(t, hasAward)
	assert.Equal(t, "Dangling Award", doc.Publications[0]["title"])
}

func TestArchiveRoundTripRelocatesAttachments(t *testing.T) {
	ctx := context.Background()

	source := newFakeStore()
	exportSvc := newArchiveService(t, source)
	require.NoError(t, source.SavePublication(ctx, &models.Publication{
		Title: "With PDF", Year: 2023, PathToPDF: "pdfs/study.pdf",
	}))
	writeUpload(t, exportSvc.Config, "pdfs/study.pdf", "%PDF-1.4 fake")

	var buf bytes.Buffer
	wrote, err := exportSvc.Export(ctx, &buf, nil)
	require.NoError(t, err)
	require.True(t, wrote)

	target := newFakeStore()
	importSvc := newArchiveService(t, target)
	report, err := importSvc.Import(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Publications.New)

	require.Len(t, target.publications, 1)
	pub := target.publications[0]
	wantRel := filepath.ToSlash(filepath.Join("pdfs", "publication_1.pdf"))
	assert.Equal(t, wantRel, pub.PathToPDF)

	relocated := filepath.Join(importSvc.Config.UploadDir, "pdfs", "publication_1.pdf")
	content, err := os.ReadFile(relocated)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(content))

	// Staging directory is cleaned up after the run.
	entries, err := os.ReadDir(importSvc.Config.StagingDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestArchiveImportRejectsGarbage(t *testing.T) {
	svc := newArchiveService(t, newFakeStore())
	data := []byte("definitely not a zip archive")
	_, err := svc.Import(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.ErrorIs(t, err, ErrMalformedDocument)
}

func TestArchiveImportRequiresSnapshotEntry(t *testing.T) {
	svc := newArchiveService(t, newFakeStore())

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("pdfs/loose.pdf")
	require.NoError(t, err)
	_, err = entry.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = svc.Import(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.ErrorIs(t, err, ErrMalformedDocument)
}

// Entries trying to escape the staging directory are ignored, not extracted.
func TestArchiveImportIgnoresUnsafePaths(t *testing.T) {
	svc := newArchiveService(t, newFakeStore())

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	snapshot, err := zw.Create(SnapshotEntryName)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(snapshot).Encode(&Document{
		Persons: []AttributeBag{{FieldID: "pers0", "firstName": "Marie", "lastName": "Dupont"}},
	}))
	evil, err := zw.Create("../evil.txt")
	require.NoError(t, err)
	_, err = evil.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	report, err := svc.Import(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Persons.New)

	// Would have landed one level above the per-run staging directory.
	_, statErr := os.Stat(filepath.Join(svc.Config.StagingDir, "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
