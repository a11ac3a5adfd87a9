package log

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"unicode"
)

// NewWriter returns an io.WriteCloser that logs each line written to it as a
// single record at the given level. Trailing whitespace is trimmed and empty
// lines are swallowed. Close flushes any unterminated final line.
//
// It is used to route operator transcripts (the per-walk progress lines the
// engine produces) into the structured log.
func NewWriter(ctx context.Context, logger *slog.Logger, level slog.Level) io.WriteCloser {
	return &lineWriter{
		ctx:    ctx,
		logger: logger,
		level:  level,
	}
}

type lineWriter struct {
	ctx    context.Context
	logger *slog.Logger
	level  slog.Level
	buf    bytes.Buffer
}

// Write implements io.Writer. Bytes are buffered until a newline completes a
// record.
func (w *lineWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i == -1 {
			n, err := w.buf.Write(p)
			return written + n, err
		}
		n, err := w.buf.Write(p[:i])
		written += n
		if err != nil {
			return written, err
		}
		p = p[i+1:]
		written++ // the newline
		w.flushLine()
	}
	return written, nil
}

// Close implements io.Closer, emitting any buffered bytes as a final record.
func (w *lineWriter) Close() error {
	if w.buf.Len() > 0 {
		w.flushLine()
	}
	return nil
}

func (w *lineWriter) flushLine() {
	line := bytes.TrimRightFunc(w.buf.Bytes(), unicode.IsSpace)
	if len(line) > 0 {
		w.logger.Log(w.ctx, w.level, string(line))
	}
	w.buf.Reset()
}
