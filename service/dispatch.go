package service

import "sync"

const eventQueueSize = 64

// dispatcher runs the gateway events of each guild on one goroutine in the
// order the gateway delivered them. Events still queued on close are dropped.
type dispatcher struct {
	mu     sync.Mutex
	queues map[string]chan func()
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		queues: make(map[string]chan func()),
		stop:   make(chan struct{}),
	}
}

func (d *dispatcher) dispatch(guildID string, fn func()) {
	d.mu.Lock()
	select {
	case <-d.stop:
		d.mu.Unlock()
		return
	default:
	}
	queue, ok := d.queues[guildID]
	if !ok {
		queue = make(chan func(), eventQueueSize)
		d.queues[guildID] = queue
		d.wg.Add(1)
		go d.run(queue)
	}
	d.mu.Unlock()

	select {
	case queue <- fn:
	case <-d.stop:
	}
}

func (d *dispatcher) run(queue chan func()) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stop:
			return
		case fn := <-queue:
			fn()
		}
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	d.once.Do(func() { close(d.stop) })
	d.mu.Unlock()
	d.wg.Wait()
}
