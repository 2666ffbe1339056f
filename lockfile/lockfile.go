// Package lockfile guards a daemon root directory against concurrent use
// by a second daemon instance.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rogpeppe/go-internal/lockedfile"
)

// LockFile holds an acquired daemon lock.
type LockFile struct {
	f *lockedfile.File
}

// Close releases the lock.
func (lf *LockFile) Close() error {
	if lf.f == nil {
		return fmt.Errorf("nil internal locked file")
	}
	return lf.f.Close()
}

// Acquire takes the lock at filePath, blocking while another process
// holds it until the context is canceled.
func Acquire(ctx context.Context, filePath string) (*LockFile, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o0700); err != nil {
		return nil, err
	}
	cf := make(chan *lockedfile.File)
	cerr := make(chan error)
	go func() {
		f, err := lockedfile.Create(filePath)
		if err != nil {
			cerr <- err
		} else {
			cf <- f
		}
	}()

	select {
	case f := <-cf:
		// Record who holds the lock. Write errors are ignored, the
		// contents exist only to ease debugging.
		f.WriteString(fmt.Sprintf("PID=%d\n", os.Getpid()))
		host, _ := os.Hostname()
		f.WriteString(fmt.Sprintf("Host=%q\n", host))
		procName := ""
		if len(os.Args) > 0 {
			procName = os.Args[0]
		}
		f.WriteString(fmt.Sprintf("Process=%q\n", procName))
		return &LockFile{f: f}, nil

	case err := <-cerr:
		return nil, err

	case <-ctx.Done():
		// The lock may still be acquired after the context is done,
		// so make sure it gets released if that ever happens.
		go func() {
			select {
			case <-cerr:
			case f := <-cf:
				f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
