package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %q: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %q: %v", f.Name, err)
		}
		out[f.Name] = string(content)
	}
	return out
}

func TestArchiveAssets(t *testing.T) {
	data := ArchiveAssets([]Asset{
		{Filename: "a.png", Data: []byte("one")},
		{Filename: "b.png", Data: []byte("two")},
	})
	entries := readArchive(t, data)
	if entries["a.png"] != "one" || entries["b.png"] != "two" {
		t.Fatalf("entries = %#v", entries)
	}
}

func TestArchiveAssetsDisambiguatesDuplicates(t *testing.T) {
	data := ArchiveAssets([]Asset{
		{Filename: "a.png", Data: []byte("one")},
		{Filename: "a.png", Data: []byte("two")},
		{Filename: "a.png", Data: []byte("three")},
	})
	entries := readArchive(t, data)
	if len(entries) != 3 {
		t.Fatalf("entry count = %d, want 3", len(entries))
	}
	if entries["a.png"] != "one" || entries["a-1.png"] != "two" || entries["a-2.png"] != "three" {
		t.Fatalf("entries = %#v", entries)
	}
}
