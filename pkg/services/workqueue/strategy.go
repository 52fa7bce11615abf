package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy tracks running tasks and decides whether a new one may start.
type ConcurrencyStrategy interface {
	// CanStartNetwork returns true if a network task can start now.
	CanStartNetwork() bool
	// CanStartData returns true if a data task can start now.
	CanStartData() bool
	// OnStartNetwork is called when a network task starts.
	OnStartNetwork()
	// OnStartData is called when a data task starts.
	OnStartData()
	// OnCompleteNetwork is called when a network task completes.
	OnCompleteNetwork()
	// OnCompleteData is called when a data task completes.
	OnCompleteData()
}

// SerializedStrategy runs one network task and one data task at a time.
// A network task and a data task may run in parallel with each other.
type SerializedStrategy struct {
	mu             sync.Mutex
	networkRunning bool
	dataRunning    bool
}

// NewSerializedStrategy creates the default strategy: one network task at a
// time, one data task at a time.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartNetwork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.networkRunning
}

func (s *SerializedStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *SerializedStrategy) OnStartNetwork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkRunning = true
}

func (s *SerializedStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *SerializedStrategy) OnCompleteNetwork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkRunning = false
}

func (s *SerializedStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}

// ThrottledNetworkStrategy allows up to maxConcurrent network tasks in
// parallel. Data tasks stay serialized.
type ThrottledNetworkStrategy struct {
	mu             sync.Mutex
	maxConcurrent  int
	networkRunning int
	dataRunning    bool
}

// NewThrottledNetworkStrategy creates a strategy allowing up to maxConcurrent
// parallel network tasks.
func NewThrottledNetworkStrategy(maxConcurrent int) *ThrottledNetworkStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledNetworkStrategy{maxConcurrent: maxConcurrent}
}

func (s *ThrottledNetworkStrategy) CanStartNetwork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.networkRunning < s.maxConcurrent
}

func (s *ThrottledNetworkStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *ThrottledNetworkStrategy) OnStartNetwork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkRunning++
}

func (s *ThrottledNetworkStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *ThrottledNetworkStrategy) OnCompleteNetwork() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.networkRunning > 0 {
		s.networkRunning--
	}
}

func (s *ThrottledNetworkStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}
