package state

import "time"

// SelfNextHop in a feed command means the announcing external peer itself.
const SelfNextHop = "self"

// DefaultScenarioPrefix is used by the scenario tools when no prefix is given.
const DefaultScenarioPrefix = "100.0.1.0/24"

var (
	DefaultPropagationDelay = Tick(1)
	DefaultMaxTicks         = Tick(10000)

	// LiveDedupWindow suppresses identical live feed lines seen again within the window.
	LiveDedupWindow = 30 * time.Second
	// PeerTickDuration is the wall clock length of one tick when replaying a script as a mock peer.
	PeerTickDuration = time.Second
	// SlowEventThreshold marks event deliveries worth a warning.
	SlowEventThreshold = 4 * time.Millisecond
	// LiveLineBuffer is the capacity of the channel between the live feed reader and the simulation.
	LiveLineBuffer = 128
)
