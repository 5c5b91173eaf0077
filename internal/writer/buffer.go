package writer

import "github.com/stars4all/tessd/internal/database"

// bufferSize is the flush threshold of the per-shape row buffers.
const bufferSize = 10

// buffer accumulates resolved fact rows until the writer flushes them
// as one batched insert. Only the writer goroutine touches it.
type buffer struct {
	rows []database.ReadingRow
	max  int
}

func newBuffer(max int) *buffer {
	return &buffer{rows: make([]database.ReadingRow, 0, max), max: max}
}

// add appends a row and reports whether the buffer is ready to flush.
func (b *buffer) add(row database.ReadingRow) bool {
	b.rows = append(b.rows, row)
	return len(b.rows) >= b.max
}

// take returns the buffered rows and resets the buffer.
func (b *buffer) take() []database.ReadingRow {
	rows := b.rows
	b.rows = make([]database.ReadingRow, 0, b.max)
	return rows
}

func (b *buffer) len() int {
	return len(b.rows)
}
