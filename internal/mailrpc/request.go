package mailrpc

import (
	"sync"
	"time"
)

// request is one outstanding command. It settles exactly once.
type request struct {
	id      string
	account Account
	command string
	body    []byte
	created time.Time

	once sync.Once
	done chan struct{}
	resp *Response
	err  error
}

func newRequest(id string, account Account, command string, body []byte, now time.Time) *request {
	return &request{
		id:      id,
		account: account,
		command: command,
		body:    body,
		created: now,
		done:    make(chan struct{}),
	}
}

// settle records the outcome and wakes the caller. Later calls are no-ops.
func (r *request) settle(resp *Response, err error) bool {
	settled := false
	r.once.Do(func() {
		r.resp = resp
		r.err = err
		settled = true
		close(r.done)
	})
	return settled
}
