package chat

type fanoutJob struct {
	sessions []*Session
	payload  []byte
}

// Fanout is a fixed worker pool that pushes one payload into many
// per-session send queues without blocking the caller.
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 256
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, s := range job.sessions {
					select {
					case s.send <- job.payload:
					default:
						// slow client: skip rather than block the pool
					}
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Broadcast(sessions []*Session, payload []byte) {
	if len(sessions) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{sessions: sessions, payload: payload}
}
