package vm

import (
	"fmt"
	"io"
	"os"
)

// OSFile adapts an *os.File to the File interface. Reopen opens the same
// path again so every mapping owns its own descriptor and cursor.
type OSFile struct {
	path string
	flag int
	file *os.File
}

// OpenFile opens path with the given os.OpenFile flags
func OpenFile(path string, flag int) (*OSFile, error) {
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &OSFile{path: path, flag: flag &^ (os.O_CREATE | os.O_TRUNC | os.O_EXCL), file: f}, nil
}

func (f *OSFile) Seek(offset int64) error {
	_, err := f.file.Seek(offset, io.SeekStart)
	return err
}

// Read fills buf from the cursor. Hitting end of file is a short read, not
// an error.
func (f *OSFile) Read(buf []byte) (int, error) {
	n, err := io.ReadFull(f.file, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}

func (f *OSFile) WriteAt(buf []byte, offset int64) (int, error) {
	return f.file.WriteAt(buf, offset)
}

func (f *OSFile) Reopen() (File, error) {
	nf, err := OpenFile(f.path, f.flag)
	if err != nil {
		return nil, err
	}
	return nf, nil
}

// Length returns the file size, or 0 if it cannot be determined
func (f *OSFile) Length() int64 {
	info, err := f.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func (f *OSFile) Close() error {
	return f.file.Close()
}

// Path returns the path the file was opened with
func (f *OSFile) Path() string {
	return f.path
}
