package pakecode

// bitWriter accumulates a big-endian bit string.
type bitWriter struct {
	bits []uint8
}

// writeUint appends the low n bits of v, most significant first.
func (w *bitWriter) writeUint(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bits = append(w.bits, uint8(v>>uint(i))&1)
	}
}

// writeBytes appends the first n bits of b. The caller guarantees that b
// holds at least n bits.
func (w *bitWriter) writeBytes(b []byte, n int) {
	for i := 0; i < n; i++ {
		w.bits = append(w.bits, (b[i/8]>>(7-uint(i%8)))&1)
	}
}

// len returns the number of bits written so far.
func (w *bitWriter) len() int {
	return len(w.bits)
}

// symbols splits the bit string into groups of width bits. The bit string
// must be a multiple of width long.
func (w *bitWriter) symbols(width int) []uint8 {
	syms := make([]uint8, 0, len(w.bits)/width)
	for i := 0; i+width <= len(w.bits); i += width {
		var sym uint8
		for _, bit := range w.bits[i : i+width] {
			sym = sym<<1 | bit
		}
		syms = append(syms, sym)
	}

	return syms
}

// bitReader consumes a big-endian bit string.
type bitReader struct {
	bits []uint8
	pos  int
}

// newSymbolReader expands symbols of the given width into a bitReader.
func newSymbolReader(syms []uint8, width int) *bitReader {
	w := &bitWriter{}
	for _, sym := range syms {
		w.writeUint(uint64(sym), width)
	}

	return &bitReader{bits: w.bits}
}

// remaining returns the number of unread bits.
func (r *bitReader) remaining() int {
	return len(r.bits) - r.pos
}

// readUint reads n bits, n <= 64, as an unsigned integer.
func (r *bitReader) readUint(n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<1 | uint64(r.bits[r.pos])
		r.pos++
	}

	return v
}

// readBytes reads n bits and returns them left justified in the smallest
// byte slice that holds them. Trailing bits of the last byte are zero.
func (r *bitReader) readBytes(n int) []byte {
	b := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		b[i/8] |= r.bits[r.pos] << (7 - uint(i%8))
		r.pos++
	}

	return b
}

// leftJustifiedBytes converts a big-endian integer holding n significant
// bits into a left justified byte slice.
func leftJustifiedBytes(v uint64, n int) []byte {
	w := &bitWriter{}
	w.writeUint(v, n)

	return (&bitReader{bits: w.bits}).readBytes(n)
}
