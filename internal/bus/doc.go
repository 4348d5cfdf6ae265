package bus

// ServiceManager lifecycle (spec §4.4.1):
//
//	init ──Connect──► connected ──Subscribe──► subscribed ──Start──► active
//	                                                                    │
//	                                                              Terminate
//	                                                                    ▼
//	                                                             terminating
//	                                                                    │
//	                                                                    ▼
//	                                                                closed
//
// Every subscribed channel gets its own forwarding goroutine draining a
// Broker subscriber into a single aggregate channel; one processor
// goroutine reads the aggregate and either resolves a waiting Send call
// (response envelopes with a live correlation id) or hands the envelope
// to the Router.
