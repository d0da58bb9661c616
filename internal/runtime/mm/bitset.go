package mm

import "math/bits"

// bitSet is a fixed-size set of bits backed by uint64 words.
type bitSet struct {
	size  uint32
	words []uint64
	count uint32
}

func newBitSet(size uint32) *bitSet {
	return &bitSet{size: size, words: make([]uint64, (size+63)/64)}
}

func (b *bitSet) on(i uint32) bool {
	return i < b.size && b.words[i>>6]&(1<<(i&63)) != 0
}

func (b *bitSet) set(i uint32) {
	if b.on(i) {
		return
	}
	b.words[i>>6] |= 1 << (i & 63)
	b.count++
}

func (b *bitSet) clear(i uint32) {
	if !b.on(i) {
		return
	}
	b.words[i>>6] &^= 1 << (i & 63)
	b.count--
}

// first returns the lowest set bit.
func (b *bitSet) first() (uint32, bool) {
	for w, word := range b.words {
		if word != 0 {
			return uint32(w)*64 + uint32(bits.TrailingZeros64(word)), true
		}
	}
	return 0, false
}
