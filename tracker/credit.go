package tracker

import "time"

// credit is one invite use seen in a snapshot diff without a join to claim it
type credit struct {
	Code       string
	InviterID  *string
	ObservedAt time.Time
}

// creditQueue keeps unclaimed uses in the order they were observed. Joins
// that find no candidate of their own claim the oldest credit.
type creditQueue struct {
	items []credit
}

func (q *creditQueue) push(c Candidate, uses int, at time.Time) {
	for i := 0; i < uses; i++ {
		q.items = append(q.items, credit{Code: c.Code, InviterID: c.InviterID, ObservedAt: at})
	}
}

func (q *creditQueue) pop() (credit, bool) {
	if len(q.items) == 0 {
		return credit{}, false
	}
	c := q.items[0]
	q.items = q.items[1:]
	return c, true
}

// expire drops credits observed more than window before now
func (q *creditQueue) expire(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for n < len(q.items) && q.items[n].ObservedAt.Before(cutoff) {
		n++
	}
	q.items = q.items[n:]
	return n
}

func (q *creditQueue) len() int {
	return len(q.items)
}
