// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package logging

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
)

// GetLogFile opens a log sink by name. An empty name discards everything,
// "stdout" and "stderr" map to the process streams, anything else is a file
// path whose parent directories are created on demand.
func GetLogFile(file string) (io.WriteCloser, error) {
	switch file {
	case "":
		return nopCloser{io.Discard}, nil
	case "stdout":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	}

	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	fd, err := os.Create(file) //nolint:gosec
	if err != nil {
		return nil, err
	}

	return &fileCloser{
		f:   fd,
		buf: bufio.NewWriterSize(fd, 4096),
	}, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

type fileCloser struct {
	f   *os.File
	buf *bufio.Writer
}

func (f *fileCloser) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func (f *fileCloser) Close() error {
	if err := f.buf.Flush(); err != nil {
		_ = f.f.Close()

		return err
	}

	return f.f.Close()
}
