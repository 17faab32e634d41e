package memory

// Op is the kind of pool event delivered to an Observer.
type Op uint8

const (
	OpAllocate Op = iota
	OpFree
	OpExhausted
	OpInvalidFree
)

func (o Op) String() string {
	switch o {
	case OpAllocate:
		return "alloc"
	case OpFree:
		return "free"
	case OpExhausted:
		return "exhausted"
	case OpInvalidFree:
		return "invalid_free"
	default:
		return "unknown"
	}
}

// Event describes one allocate or deallocate call and the occupancy it left
// behind. Start and Blocks are -1/0 when no run was involved.
type Event struct {
	Seq        uint64
	Pool       string
	Op         Op
	Start      int
	Blocks     int
	Bytes      int
	UsedBlocks int
}

// Observer receives pool events synchronously on the calling goroutine.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
