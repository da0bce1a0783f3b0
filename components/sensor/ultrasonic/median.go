package ultrasonic

const filterSize = 5

// medianFilter keeps the last filterSize accepted durations, overwriting the oldest first.
type medianFilter struct {
	slots  [filterSize]uint32
	next   uint8
	filled uint8
}

func (f *medianFilter) push(d uint32) {
	f.slots[f.next] = d
	f.next = (f.next + 1) % filterSize
	if f.filled < filterSize {
		f.filled++
	}
}

// median returns 0 until the window has been filled once.
func (f *medianFilter) median() uint32 {
	if f.filled < filterSize {
		return 0
	}
	return median5(f.slots[0], f.slots[1], f.slots[2], f.slots[3], f.slots[4])
}

// median5 returns the middle of five values with a fixed network of seven compare-exchanges.
func median5(a, b, c, d, e uint32) uint32 {
	a, b = order(a, b)
	d, e = order(d, e)
	a, d = order(a, d)
	b, e = order(b, e)
	b, c = order(b, c)
	c, d = order(c, d)
	_, c = order(b, c)
	return c
}

func order(x, y uint32) (uint32, uint32) {
	if x > y {
		return y, x
	}
	return x, y
}
