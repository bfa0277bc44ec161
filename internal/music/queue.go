package music

import (
	"sync"

	"github.com/onbeat/onbeat-bot/internal/lavalink"
)

// QueuedTrack is a track waiting to play, tagged with who asked for it.
type QueuedTrack struct {
	Track       lavalink.Track
	RequesterID string
}

type AppendResult struct {
	Added    int
	Rejected int
}

// Queue is a bounded FIFO of tracks.
type Queue struct {
	mu     sync.Mutex
	tracks []QueuedTrack
	limit  int
}

func NewQueue(limit int) *Queue {
	return &Queue{limit: limit}
}

// SetLimit changes the capacity. Tracks already queued beyond it are kept.
func (q *Queue) SetLimit(limit int) {
	q.mu.Lock()
	q.limit = limit
	q.mu.Unlock()
}

func (q *Queue) Limit() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// Append admits tracks in order until the queue is full and reports how many were dropped.
func (q *Queue) Append(tracks ...QueuedTrack) AppendResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	room := q.limit - len(q.tracks)
	if room < 0 {
		room = 0
	}
	n := len(tracks)
	if n > room {
		n = room
	}
	q.tracks = append(q.tracks, tracks[:n]...)
	return AppendResult{Added: n, Rejected: len(tracks) - n}
}

// RemoveAt removes the track at zero-based index i.
func (q *Queue) RemoveAt(i int) (QueuedTrack, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if i < 0 || i >= len(q.tracks) {
		return QueuedTrack{}, ErrIndexOutOfRange
	}
	t := q.tracks[i]
	q.tracks = append(q.tracks[:i], q.tracks[i+1:]...)
	return t, nil
}

// Clear empties the queue and returns how many tracks were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tracks)
	q.tracks = nil
	return n
}

func (q *Queue) PeekAt(i int) (QueuedTrack, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.tracks) {
		return QueuedTrack{}, false
	}
	return q.tracks[i], true
}

func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracks)
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (QueuedTrack, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return QueuedTrack{}, false
	}
	t := q.tracks[0]
	q.tracks[0] = QueuedTrack{}
	q.tracks = q.tracks[1:]
	return t, true
}

// Snapshot returns a copy of the queued tracks in play order.
func (q *Queue) Snapshot() []QueuedTrack {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedTrack, len(q.tracks))
	copy(out, q.tracks)
	return out
}
