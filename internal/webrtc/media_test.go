package webrtc

import "testing"

func TestStaticSourceAcquire(t *testing.T) {
	local, err := StaticSource{}.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	media, ok := local.(*LocalMedia)
	if !ok {
		t.Fatalf("Acquire returned %T", local)
	}
	if got := len(media.tracks()); got != 2 {
		t.Fatalf("%d tracks, want audio + video", got)
	}
	for i, track := range media.tracks() {
		if track == nil {
			t.Fatalf("track %d is nil", i)
		}
	}

	// Release is a no-op for static tracks and safe to repeat.
	local.Release()
	local.Release()
}

func TestAcquireReturnsFreshTracks(t *testing.T) {
	a, err := StaticSource{}.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	b, err := StaticSource{}.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if a.(*LocalMedia).audio == b.(*LocalMedia).audio {
		t.Fatal("two acquisitions share an audio track")
	}
}
