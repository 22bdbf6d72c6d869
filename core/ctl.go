package core

// The pool's main control word packs three fields into 64 bits so that
// every transition is a single CAS:
//
//	[63..48] RC: released (active) workers minus parallelism, int16
//	[47..32] TC: total workers minus parallelism, int16
//	[31..0]  SP: phase of the top idle worker, 0 if the idle stack is empty
//
// RC and TC are biased by parallelism, so a negative RC means too few active
// workers and a negative TC means more workers may be added.
const (
	rcShift = 48
	tcShift = 32
	spMask  = 0xffffffff

	// smask extracts a queue index from a phase, config or source value.
	smask = 0xffff

	// maxCap bounds parallelism and MaxThreads.
	maxCap = 0x7fff

	// ssSeq is the version increment applied to a phase on every idle push.
	ssSeq = 1 << 16

	// inactive is set in a worker's phase while it sits on the idle stack.
	inactive = 1 << 31
)

// Lifecycle and mode bits held in Pool.mode. The low 15 bits hold parallelism.
const (
	modeParallelism = maxCap
	modeFIFO        = 1 << 16
	modeShutdown    = 1 << 18
	modeStop        = 1 << 19
	modeTerminated  = 1 << 20
)

// Queue config bits.
const (
	cfgFIFO  = 1 << 16
	cfgSrc   = 1 << 17 // valid steal source; set once a worker starts running
	cfgQuiet = 1 << 18 // worker already removed itself from ctl
)

// srcBit marks a non-zero source value so queue index 0 is distinguishable.
const srcBit = 1 << 17

type ctlWord uint64

func packCtl(rc, tc int16, sp uint32) ctlWord {
	return ctlWord(uint64(uint16(rc))<<rcShift | uint64(uint16(tc))<<tcShift | uint64(sp))
}

// initialCtl is the control word of a pool with no workers.
func initialCtl(parallelism int) ctlWord {
	return packCtl(int16(-parallelism), int16(-parallelism), 0)
}

func (c ctlWord) rc() int16  { return int16(uint64(c) >> rcShift) }
func (c ctlWord) tc() int16  { return int16(uint64(c) >> tcShift) }
func (c ctlWord) sp() uint32 { return uint32(uint64(c) & spMask) }

func (c ctlWord) addReleased(n int16) ctlWord { return packCtl(c.rc()+n, c.tc(), c.sp()) }
func (c ctlWord) addTotal(n int16) ctlWord    { return packCtl(c.rc(), c.tc()+n, c.sp()) }
func (c ctlWord) withSP(sp uint32) ctlWord    { return packCtl(c.rc(), c.tc(), sp) }

// tooFewActive reports whether RC is negative.
func (c ctlWord) tooFewActive() bool { return c.rc() < 0 }

// canAddWorker reports whether TC is negative.
func (c ctlWord) canAddWorker() bool { return c.tc() < 0 }

// bounds packs (minRunnable - p) in the low 16 bits and (maxThreads - p)
// in the high 16 bits, both signed.
type boundsWord uint32

func packBounds(minRunnable, maxThreads, parallelism int) boundsWord {
	return boundsWord(uint32(uint16(int16(maxThreads-parallelism)))<<16 | uint32(uint16(int16(minRunnable-parallelism))))
}

func (b boundsWord) minActive() int16 { return int16(uint16(b)) }
func (b boundsWord) maxTotal() int16  { return int16(uint16(b >> 16)) }

// phaseIndex extracts the queue index encoded in a phase.
func phaseIndex(phase uint32) int { return int(phase & smask) }
