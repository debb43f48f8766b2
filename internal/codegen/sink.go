package codegen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink receives generated file content.
type Sink interface {
	WriteFile(ctx context.Context, name string, content []byte) error
}

// DirSink writes files into a directory. Writes are atomic: content goes to
// a temp file in the same directory, which is then renamed over the target.
type DirSink struct {
	Dir  string
	Mode os.FileMode // default 0644
}

func (s DirSink) WriteFile(ctx context.Context, name string, content []byte) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid file name %q", name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mode := s.Mode
	if mode == 0 {
		mode = 0644
	}

	tmp, err := os.CreateTemp(s.Dir, ".dynvoke-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_, writeErr := tmp.Write(content)
	closeErr := tmp.Close()

	fail := func(err error) error {
		_ = os.Remove(tmpPath)
		return err
	}
	if writeErr != nil {
		return fail(fmt.Errorf("write temp file: %w", writeErr))
	}
	if closeErr != nil {
		return fail(fmt.Errorf("close temp file: %w", closeErr))
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fail(fmt.Errorf("set file mode: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.Dir, name)); err != nil {
		return fail(fmt.Errorf("rename temp file: %w", err))
	}
	return nil
}

// MemorySink keeps files in memory. It is safe for concurrent use.
type MemorySink struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *MemorySink) WriteFile(ctx context.Context, name string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[name] = append([]byte(nil), content...)
	return nil
}

// Get returns a copy of the named file, or nil.
func (s *MemorySink) Get(name string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[name]
	if !ok {
		return nil
	}
	return append([]byte(nil), content...)
}
