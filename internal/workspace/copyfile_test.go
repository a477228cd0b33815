package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFile(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		mode    os.FileMode
	}{
		{
			name:    "regular file",
			content: []byte("package main\n"),
			mode:    0o644,
		},
		{
			name:    "empty file",
			content: []byte{},
			mode:    0o644,
		},
		{
			name:    "restricted permissions",
			content: []byte("secret"),
			mode:    0o600,
		},
		{
			name:    "executable",
			content: []byte("#!/bin/sh\necho hi\n"),
			mode:    0o755,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "src.txt")
			dst := filepath.Join(dir, "dst.txt")

			if err := os.WriteFile(src, tt.content, tt.mode); err != nil {
				t.Fatal(err)
			}
			if err := CopyFile(src, dst); err != nil {
				t.Fatalf("CopyFile() error = %v", err)
			}

			got, err := os.ReadFile(dst)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != string(tt.content) {
				t.Errorf("content = %q, want %q", got, tt.content)
			}

			srcInfo, err := os.Stat(src)
			if err != nil {
				t.Fatal(err)
			}
			dstInfo, err := os.Stat(dst)
			if err != nil {
				t.Fatal(err)
			}
			if srcInfo.Mode() != dstInfo.Mode() {
				t.Errorf("mode = %v, want %v", dstInfo.Mode(), srcInfo.Mode())
			}
		})
	}
}

func TestCopyFile_SourceMissing(t *testing.T) {
	dir := t.TempDir()

	err := CopyFile(filepath.Join(dir, "absent.txt"), filepath.Join(dir, "dst.txt"))
	if err == nil {
		t.Fatal("CopyFile() error = nil, want error")
	}
	if !os.IsNotExist(err) {
		t.Errorf("error = %v, want not-exist", err)
	}
}

func TestCopyFile_Overwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("old old old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("content = %q, want %q", got, "new")
	}
}
