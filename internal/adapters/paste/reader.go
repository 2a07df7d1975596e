// Package paste captures pasted race cards: blocks typed or piped on stdin
// and files dropped into an inbox directory.
package paste

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// DefaultSentinel ends a pasted block when it appears alone on a line.
const DefaultSentinel = "END"

// BlockReader splits a stream into sentinel-terminated blocks.
type BlockReader struct {
	sc       *bufio.Scanner
	sentinel string
}

// NewBlockReader returns a reader over r. An empty sentinel uses
// DefaultSentinel.
func NewBlockReader(r io.Reader, sentinel string) *BlockReader {
	if strings.TrimSpace(sentinel) == "" {
		sentinel = DefaultSentinel
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	return &BlockReader{sc: sc, sentinel: sentinel}
}

// Next returns the next non-empty block. A trailing block without a
// sentinel is returned before io.EOF.
func (b *BlockReader) Next() (string, error) {
	var sb strings.Builder
	for b.sc.Scan() {
		line := b.sc.Text()
		if strings.TrimSpace(line) == b.sentinel {
			if strings.TrimSpace(sb.String()) == "" {
				sb.Reset()
				continue
			}
			return sb.String(), nil
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	if err := b.sc.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(sb.String()) != "" {
		return sb.String(), nil
	}
	return "", io.EOF
}

// ReadBlocks calls fn for every block until EOF, an fn error or ctx ends.
// Blocks are read on the caller's goroutine.
func ReadBlocks(ctx context.Context, r io.Reader, sentinel string, fn func(ctx context.Context, block string) error) error {
	br := NewBlockReader(r, sentinel)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		block, err := br.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ctx, block); err != nil {
			return err
		}
	}
}
