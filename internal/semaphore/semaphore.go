// Package semaphore provides a counting semaphore for limiting concurrent disk writes.
package semaphore

type Semaphore struct {
	c chan struct{}
}

func New(n int) *Semaphore {
	return &Semaphore{c: make(chan struct{}, n)}
}

func (s *Semaphore) Wait() {
	s.c <- struct{}{}
}

func (s *Semaphore) Signal() {
	<-s.c
}
