package workspace

import (
	"io"
	"os"
)

// CopyFile copies a regular file, preserving the source's permission
// bits. Timestamps are the caller's concern.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// O_CREATE applies the umask; restate the source mode explicitly.
	return os.Chmod(dst, info.Mode().Perm())
}
