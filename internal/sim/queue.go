package sim

import "time"

type eventKind int

const (
	eventArrive  eventKind = iota // reach a waypoint
	eventDepart                   // leave the waypoint the train dwells at
	eventRelease                  // free the platform of a terminated train
)

type event struct {
	at       time.Time
	trainID  string
	kind     eventKind
	waypoint int
	seq      int
	index    int
}

// eventQueue implements heap.Interface ordered by time, then train ID, then insertion
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if !q[i].at.Equal(q[j].at) {
		return q[i].at.Before(q[j].at)
	}
	if q[i].trainID != q[j].trainID {
		return q[i].trainID < q[j].trainID
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x interface{}) {
	n := len(*q)
	ev := x.(*event)
	ev.index = n
	*q = append(*q, ev)
}

func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*q = old[0 : n-1]
	return ev
}
