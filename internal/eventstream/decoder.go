package eventstream

// compactThreshold is the consumed-prefix size above which Write reclaims
// buffer space before appending.
const compactThreshold = 64 * 1024

// Decoder accumulates network chunks and yields frames as they complete. It
// owns the buffer and the cursor; neither is shared. Not safe for concurrent
// use.
type Decoder struct {
	reader FrameReader
	buf    []byte
	cursor int
}

// NewDecoder returns a Decoder that reads frames with r.
func NewDecoder(r FrameReader) *Decoder {
	return &Decoder{reader: r}
}

// Write appends p to the buffer. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.compact()
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete frame. ErrIncomplete means more bytes are
// needed and nothing was consumed. Any other error is fatal.
func (d *Decoder) Next() (Frame, error) {
	f, next, err := d.reader.TryRead(d.buf, d.cursor)
	if err != nil {
		return Frame{}, err
	}
	d.cursor = next
	return f, nil
}

// Buffered reports how many unconsumed bytes are held.
func (d *Decoder) Buffered() int { return len(d.buf) - d.cursor }

// Cursor is the offset of the first unconsumed byte in the retained buffer.
func (d *Decoder) Cursor() int { return d.cursor }

// compact drops the consumed prefix. The cursor is re-based with it, so it
// keeps pointing at the first unconsumed byte.
func (d *Decoder) compact() {
	switch {
	case d.cursor == 0:
	case d.cursor == len(d.buf):
		d.buf = d.buf[:0]
		d.cursor = 0
	case d.cursor >= compactThreshold && d.cursor*2 >= len(d.buf):
		n := copy(d.buf, d.buf[d.cursor:])
		d.buf = d.buf[:n]
		d.cursor = 0
	}
}
