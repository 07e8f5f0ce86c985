package playback

// Device is the playback capability the scheduler drives. Buffers are named
// by small integer ids; the device may keep the samples passed to Submit
// until the buffer is released.
type Device interface {
	// Submit queues samples for playback under id.
	Submit(id int, samples []int16, sampleRate int) error
	// Playing reports whether queued audio is currently being played.
	Playing() (bool, error)
	// Start begins playing the queue.
	Start() error
	// Release unqueues a buffer that has finished playing, or any queued
	// buffer while the device is stopped.
	Release(id int) error
	// Processed reports how many queued buffers have finished playing and
	// are waiting to be released.
	Processed() (int, error)
}
