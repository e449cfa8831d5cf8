package interfaces

// HubRecorder receives sync hub events. *metrics.Metrics implements it.
type HubRecorder interface {
	ClientConnected()
	ClientDisconnected()
	MessageReceived(msgType string)
	MessageDropped(reason string)
	Broadcast(msgType string, recipients int)
	BoardChanged(lastUpdated int64, items int)
}

// FeedRecorder receives flight feed poll results.
type FeedRecorder interface {
	FeedFetched(ok bool, flights int)
}

// Recorder is everything the service records.
type Recorder interface {
	HubRecorder
	FeedRecorder
}

// Nop discards everything.
type Nop struct{}

func (Nop) ClientConnected()        {}
func (Nop) ClientDisconnected()     {}
func (Nop) MessageReceived(string)  {}
func (Nop) MessageDropped(string)   {}
func (Nop) Broadcast(string, int)   {}
func (Nop) BoardChanged(int64, int) {}
func (Nop) FeedFetched(bool, int)   {}
