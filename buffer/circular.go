package buffer

// CircularFloat is a circular buffer of float64 values with the ability to
// iterate over the first and second halves of the values collected in the
// order that they were appended. The sampler chain uses it to keep a rolling
// window of per-sweep summary values in memory.
type CircularFloat struct {
	buffer    []float64 // actual storage
	pos       int       // Current position in buffer
	BufSize   int       // BufSize is the fixed number of values maintained in memory
	Count     int       // Count is the number of values in memory. Will always be <= BufSize
	TotalSeen int64     // TotalSeen is the total number of times Add has been called
}

// NewCircularFloat creates a new circular buffer of totalSize. If totalSize
// is not a multiple of 2, it will be adjusted.
func NewCircularFloat(totalSize int) *CircularFloat {
	// Fix odd number situations
	half := totalSize / 2
	total := half + half

	return &CircularFloat{
		buffer:  make([]float64, total),
		pos:     0,
		BufSize: total,
		Count:   0,
	}
}

// Internal: return the next array position
func (c *CircularFloat) nextPos() int {
	return (c.pos + 1) % c.BufSize
}

// Add appends the given value to the buffer, overwriting the oldest entry
func (c *CircularFloat) Add(v float64) error {
	c.TotalSeen++

	c.buffer[c.pos] = v

	c.pos = c.nextPos()

	c.Count++
	if c.Count > c.BufSize {
		c.Count = c.BufSize // max out
	}

	return nil
}

// Mean returns the average of the values currently in memory, or 0 when
// nothing has been added yet.
func (c *CircularFloat) Mean() float64 {
	if c.Count < 1 {
		return 0
	}

	var sum float64
	for i := 0; i < c.Count; i++ {
		sum += c.buffer[i]
	}

	return sum / float64(c.Count)
}

// FirstHalf returns an iterator over the first (oldest) half of the stored
// values. Will not return a valid iterator until Add has been called at
// least BufSize times
func (c *CircularFloat) FirstHalf() *CircularFloatIterator {
	if c.Count < c.BufSize {
		return nil
	}

	return &CircularFloatIterator{
		buf:    c,
		curr:   c.pos, // Oldest is the one we're about to write
		remain: c.BufSize / 2,
	}
}

// SecondHalf returns an iterator over the second (most recent) half of the
// stored values. Will not return a valid iterator until Add has been called
// at least BufSize times
func (c *CircularFloat) SecondHalf() *CircularFloatIterator {
	if c.Count < c.BufSize {
		return nil
	}

	half := c.BufSize / 2
	pos := (c.pos + half) % c.BufSize

	return &CircularFloatIterator{
		buf:    c,
		curr:   pos,
		remain: half,
	}
}

// CircularFloatIterator provides an iterator over a CircularFloat buffer
type CircularFloatIterator struct {
	buf    *CircularFloat
	curr   int
	remain int
}

// Next returns True when there are more values to read via Value
func (i *CircularFloatIterator) Next() bool {
	return i.remain > 0
}

// Value return the next value to be read. Should only be called if Next() is
// True
func (i *CircularFloatIterator) Value() float64 {
	v := i.buf.buffer[i.curr]
	i.curr = (i.curr + 1) % i.buf.BufSize
	i.remain--
	return v
}
