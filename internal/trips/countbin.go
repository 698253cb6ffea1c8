package trips

import "strconv"

// CountBin is a fixed-size integer histogram. Clear zeroes the bins in place so a
// CountBin can be reused every iteration without reallocating.
type CountBin struct {
	bins []int
}

func NewCountBin(size int) *CountBin {
	if size <= 0 {
		size = 1
	}
	return &CountBin{bins: make([]int, size)}
}

// Increment adds one to bin i. i must be in [0, Len()).
func (c *CountBin) Increment(i int) {
	c.bins[i]++
}

func (c *CountBin) Len() int { return len(c.bins) }

// Clear zeroes every bin without touching the backing array.
func (c *CountBin) Clear() {
	clear(c.bins)
}

// Counts returns a copy of the bins in order.
func (c *CountBin) Counts() []int {
	out := make([]int, len(c.bins))
	copy(out, c.bins)
	return out
}

func (c *CountBin) Total() int {
	n := 0
	for _, v := range c.bins {
		n += v
	}
	return n
}

// AppendCounts appends counts to buf, each preceded by ", ".
func AppendCounts(buf []byte, counts []int) []byte {
	for _, v := range counts {
		buf = append(buf, ", "...)
		buf = strconv.AppendInt(buf, int64(v), 10)
	}
	return buf
}
