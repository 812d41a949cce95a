package detector

import (
	"time"
)

// Request sends msg to the actor and waits for its reply.
//
// Each step (flushing a stale reply, sending, receiving) is bounded by
// timeout on its own. Replies that arrive after their caller gave up stay
// counted as pending and are discarded by the next Request before it sends.
//
// Returns the actor's reply, Timeout when any step runs out of time or the
// driver is stopped, or Error when the reply is malformed.
func (d *Driver) Request(msg Message, timeout time.Duration) Message {
	d.reqMu.Lock()
	defer d.reqMu.Unlock()

	if d.stopping() {
		return NewMessage(Timeout)
	}

	if !d.flush(timeout) {
		return NewMessage(Timeout)
	}

	if !d.send(msg, timeout) {
		return NewMessage(Timeout)
	}
	d.pending.Add(1)

	rep, ok := d.receive(timeout)
	if !ok {
		return NewMessage(Timeout)
	}
	d.pending.Add(-1)

	if !rep.wellFormed() {
		d.logger.Error("malformed reply",
			"port", d.portName,
			"address", d.addr,
			"request", msg.Dump())
		return NewMessage(Error)
	}
	if rep.Command() == Exit {
		// Posted by Close, not a reply to msg.
		return NewMessage(Timeout)
	}
	return rep
}

// RequestCommand is shorthand for Request(NewMessage(cmd), timeout).
func (d *Driver) RequestCommand(cmd Command, timeout time.Duration) Message {
	return d.Request(NewMessage(cmd), timeout)
}

// Pending returns the number of requests sent whose replies have not been
// consumed yet.
func (d *Driver) Pending() int {
	return int(d.pending.Load())
}

// flush discards replies left behind by callers that timed out. It stops
// and reports false on an Exit posted by Close.
func (d *Driver) flush(timeout time.Duration) bool {
	for d.pending.Load() > 0 {
		rep, ok := d.receive(timeout)
		if !ok || rep.Command() == Exit {
			return false
		}
		d.pending.Add(-1)
	}
	return true
}

func (d *Driver) send(msg Message, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d.request <- msg:
		return true
	case <-timer.C:
		return false
	}
}

func (d *Driver) receive(timeout time.Duration) (Message, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rep := <-d.reply:
		return rep, true
	case <-timer.C:
		return Message{}, false
	}
}

// post places msg on ch without blocking.
func post(ch chan<- Message, msg Message) error {
	select {
	case ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the actor.
//
// Exit is posted to the reply channel (releasing a caller blocked on it)
// and then to the request channel. If either post fails or requests are
// still pending the actor may be busy, so Close waits at most the exit
// wait and returns ErrExitTimeout if it is exceeded; otherwise it waits
// for the actor to finish. Subsequent calls return the first result.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		close(d.quit)

		exit := NewMessage(Exit)
		replyErr := post(d.reply, exit)
		requestErr := post(d.request, exit)

		if replyErr != nil || requestErr != nil || d.Pending() > 0 {
			select {
			case <-d.done:
			case <-time.After(d.exitWait):
				d.closeErr = ErrExitTimeout
				d.logger.Warn("actor did not exit in time",
					"port", d.portName,
					"address", d.addr,
					"wait", d.exitWait.String())
			}
			return
		}
		<-d.done
	})
	return d.closeErr
}

// Shutdown stops the actor and lets it release the hardware handle and
// shared memory. It is safe to call any number of times, including after
// Close.
func (d *Driver) Shutdown() {
	if err := d.Close(); err != nil {
		d.logger.Warn("shutdown incomplete", "port", d.portName, "address", d.addr, "error", err)
	}
}
