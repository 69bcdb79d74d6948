package tests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tickerhub/tickerhub/cmd/feedgen/internal/feedgen"
	"github.com/tickerhub/tickerhub/cmd/feedgen/internal/testutils"
	"github.com/tickerhub/tickerhub/pkg/models"
)

func TestFeedgen_ComponentWiring(t *testing.T) {
	// Simulates the main loop with a fake writer: topic bootstrap
	// followed by the generator run.

	logger := zap.NewNop()
	mockWriter := &testutils.MockKafkaWriter{}
	mockDialer := &testutils.MockKafkaDialer{}
	mockClock := &testutils.MockClock{CurrentTime: time.Now()}
	mockRand := &testutils.MockRand{ValInt: 0, ValFloat: 0.9}

	tc := feedgen.NewTopicCreator(logger, mockDialer, mockClock)
	tc.Create([]string{"broker:9092"}, "market_ticks")
	if mockDialer.ConnSpy == nil || len(mockDialer.ConnSpy.CreatedTopics) != 1 {
		t.Fatal("Topic bootstrap did not run")
	}

	gen := feedgen.NewTickGenerator(logger, mockWriter,
		[]string{"MSFT", "GOOG"}, 100*time.Millisecond, mockRand, mockClock)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond) // Let it generate a few
		cancel()
	}()

	gen.Run(ctx)

	mockWriter.Mu.Lock()
	defer mockWriter.Mu.Unlock()

	if len(mockWriter.Messages) == 0 {
		t.Fatal("Generator failed to produce any messages in component test")
	}

	// MockRand always returns index 0, so every tick is for MSFT
	for _, msg := range mockWriter.Messages {
		if string(msg.Key) != "MSFT" {
			t.Errorf("Expected MSFT based on MockRand, got %s", string(msg.Key))
		}
		var tick models.PriceTick
		if err := json.Unmarshal(msg.Value, &tick); err != nil {
			t.Fatalf("Invalid tick payload: %v", err)
		}
		if tick.Price <= 0 {
			t.Errorf("Tick price must stay positive, got %f", tick.Price)
		}
	}
}
