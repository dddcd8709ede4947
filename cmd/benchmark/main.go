// Benchmark tool for the storage layer: seeds synthetic sessions and measures
// the hot read paths the HTTP handlers hit.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"time"

	"timelapser/pkg/storage"
)

func main() {
	var (
		generate = flag.Bool("generate", false, "Generate test data")
		run      = flag.Bool("run", false, "Run benchmarks")
		count    = flag.Int("count", 100, "Number of test sessions to generate")
		frames   = flag.Int("frames", 50, "Frames per generated session")
		dataDir  = flag.String("data-dir", "", "Data directory (default: ./bench-data)")
	)
	flag.Parse()

	if !*generate && !*run {
		flag.Usage()
		os.Exit(1)
	}

	dir := *dataDir
	if dir == "" {
		dir = "./bench-data"
	}
	store := storage.NewStore(dir, filepath.Join(dir, "timelapses"))
	if err := store.Initialize(); err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}
	defer store.Close()

	if *generate {
		if err := generateSessions(store, *count, *frames); err != nil {
			log.Fatalf("generation failed: %v", err)
		}
	}
	if *run {
		if err := runBenchmarks(store); err != nil {
			log.Fatalf("benchmark failed: %v", err)
		}
	}
}

// generateSessions seeds count completed sessions, each with the given number
// of frames, spaced one minute apart so ids never collide.
func generateSessions(store *storage.Store, count, frameCount int) error {
	frame := syntheticFrame()
	base := time.Now().Add(-time.Duration(count) * time.Minute)

	start := time.Now()
	for i := 0; i < count; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		session, err := store.CreateSession(storage.CreateSessionParams{
			ActivityFile: fmt.Sprintf("bench_%04d.blend", i),
			Camera:       "bench:0",
			Interval:     5,
		}, at)
		if err != nil {
			return fmt.Errorf("create session %d: %w", i, err)
		}
		for f := 0; f < frameCount; f++ {
			if _, err := store.AppendFrame(session.ID, frame, at.Add(time.Duration(f)*time.Second)); err != nil {
				return fmt.Errorf("append frame %d/%d: %w", i, f, err)
			}
		}
		if _, err := store.CompleteSession(session.ID, at.Add(time.Duration(frameCount)*time.Second)); err != nil {
			return fmt.Errorf("complete session %d: %w", i, err)
		}
	}
	log.Printf("generated %d sessions x %d frames in %v", count, frameCount, time.Since(start))
	return nil
}

func runBenchmarks(store *storage.Store) error {
	summaries, elapsed, err := timed(func() ([]storage.SessionSummary, error) {
		return store.ListSessions()
	})
	if err != nil {
		return err
	}
	log.Printf("ListSessions: %d sessions in %v", len(summaries), elapsed)
	if len(summaries) == 0 {
		return fmt.Errorf("no sessions to benchmark; run with -generate first")
	}

	frames, elapsed, err := timed(func() ([]storage.FrameRecord, error) {
		return store.GetFrames(summaries[0].ID)
	})
	if err != nil {
		return err
	}
	log.Printf("GetFrames: %d frames in %v", len(frames), elapsed)

	const reads = 1000
	start := time.Now()
	for i := 0; i < reads; i++ {
		if _, err := store.GetSession(summaries[i%len(summaries)].ID); err != nil {
			return err
		}
	}
	log.Printf("GetSession: %d reads in %v (%v/op)", reads, time.Since(start), time.Since(start)/reads)

	start = time.Now()
	for i := 0; i < reads; i++ {
		if _, err := store.State(); err != nil {
			return err
		}
	}
	log.Printf("State: %d reads in %v (%v/op)", reads, time.Since(start), time.Since(start)/reads)
	return nil
}

func timed[T any](fn func() (T, error)) (T, time.Duration, error) {
	start := time.Now()
	out, err := fn()
	return out, time.Since(start), err
}

// syntheticFrame encodes a small gradient JPEG once; every generated frame
// reuses it.
func syntheticFrame() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
