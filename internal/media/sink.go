package media

import (
	"errors"
	"io"
	"sync"

	"github.com/1ureka/vibetalk/internal/util"
)

// DrainSink consumes remote tracks without rendering them: packets are read
// until the track ends and their payload size is counted.
type DrainSink struct {
	wg sync.WaitGroup

	mu     sync.Mutex
	tracks map[string]int // track id → packets read
}

// NewDrainSink returns an empty sink.
func NewDrainSink() *DrainSink {
	return &DrainSink{tracks: make(map[string]int)}
}

// Attach starts reading track in its own goroutine.
func (d *DrainSink) Attach(track RemoteTrack) {
	d.mu.Lock()
	d.tracks[track.ID()] = 0
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.drain(track)
	}()
}

func (d *DrainSink) drain(track RemoteTrack) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				util.LogDebug("remote %s track %s ended: %v", track.Kind(), track.ID(), err)
			}
			return
		}
		util.Stats.AddMediaBytes(len(pkt.Payload))

		d.mu.Lock()
		d.tracks[track.ID()]++
		d.mu.Unlock()
	}
}

// Packets returns the number of packets read from the track with id.
func (d *DrainSink) Packets(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracks[id]
}

// Wait blocks until every attached track has ended.
func (d *DrainSink) Wait() {
	d.wg.Wait()
}
