// Package chatlog defines the neutral message model shared by the
// formatting engine, the message store, and platform drivers: typed
// message segments, raw and formatted messages, the persisted group log,
// and the remote lookup contracts drivers implement.
package chatlog
