package domain

// RingBuffer is a fixed-size circular buffer for storing message history
// It provides O(1) append and drops the oldest entry on overflow
type RingBuffer struct {
	data []*Message
	head int // next write position
	size int // current number of elements
	cap  int // maximum capacity
}

// NewRingBuffer creates a new ring buffer with the given capacity
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		data: make([]*Message, capacity),
		cap:  capacity,
	}
}

// Add appends a message to the buffer, overwriting oldest if full
func (rb *RingBuffer) Add(msg *Message) {
	rb.data[rb.head] = msg
	rb.head = (rb.head + 1) % rb.cap

	if rb.size < rb.cap {
		rb.size++
	}
}

// GetAll returns all messages in chronological order (oldest first)
func (rb *RingBuffer) GetAll() []*Message {
	if rb.size == 0 {
		return nil
	}

	result := make([]*Message, rb.size)
	start := (rb.head - rb.size + rb.cap) % rb.cap
	for i := 0; i < rb.size; i++ {
		result[i] = rb.data[(start+i)%rb.cap]
	}
	return result
}

// KeepLast drops the oldest messages so at most keep remain, preserving
// order. Returns the number dropped.
func (rb *RingBuffer) KeepLast(keep int) int {
	if keep < 0 {
		keep = 0
	}
	if rb.size <= keep {
		return 0
	}

	kept := rb.GetAll()[rb.size-keep:]
	dropped := rb.size - keep

	rb.Clear()
	for _, m := range kept {
		rb.Add(m)
	}
	return dropped
}

// Len returns the current number of elements
func (rb *RingBuffer) Len() int {
	return rb.size
}

// Cap returns the maximum number of elements
func (rb *RingBuffer) Cap() int {
	return rb.cap
}

// Clear removes all elements from the buffer
func (rb *RingBuffer) Clear() {
	rb.head = 0
	rb.size = 0
	// Zero out data to allow GC
	for i := range rb.data {
		rb.data[i] = nil
	}
}
