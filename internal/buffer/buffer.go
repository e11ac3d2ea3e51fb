package buffer

// StringBuffer accumulates outbound bytes until the socket accepts them.
//
// It is not synchronised, it's meant to be owned by a single event loop.
type StringBuffer struct {
	buf []byte
	off int
}

func New() *StringBuffer {
	return &StringBuffer{}
}

// Append adds data to the end of the buffer and returns how many bytes were added.
func (b *StringBuffer) Append(data []byte) int {
	if b.off > 0 && b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
	}

	b.buf = append(b.buf, data...)
	return len(data)
}

// Peek returns up to maxLen bytes from the front without consuming them.
// The returned slice is only valid until the next call that modifies the buffer.
func (b *StringBuffer) Peek(maxLen int) []byte {
	end := b.off + maxLen
	if end > len(b.buf) || maxLen < 0 {
		end = len(b.buf)
	}

	return b.buf[b.off:end]
}

// Discard drops up to n bytes from the front and returns how many were dropped.
func (b *StringBuffer) Discard(n int) int {
	if n <= 0 {
		return 0
	}

	if remaining := b.Len(); n > remaining {
		n = remaining
	}

	b.off += n

	if b.off == len(b.buf) {
		b.buf = b.buf[:0]
		b.off = 0
	} else if b.off > len(b.buf)/2 {
		// Compact once most of the backing array is dead weight
		kept := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:kept]
		b.off = 0
	}

	return n
}

func (b *StringBuffer) IsEmpty() bool {
	return b.Len() == 0
}

func (b *StringBuffer) Len() int {
	return len(b.buf) - b.off
}

func (b *StringBuffer) Reset() {
	b.buf = b.buf[:0]
	b.off = 0
}
