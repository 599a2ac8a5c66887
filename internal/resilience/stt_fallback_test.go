package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/scribeline/pkg/provider/stt"
	sttmock "github.com/MrWong99/scribeline/pkg/provider/stt/mock"
)

func TestSTTFallback_StartStream(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession()
	primary := &sttmock.Provider{StartStreamErr: errors.New("dial tcp: connection refused")}
	spare := &sttmock.Provider{Session: sess}
	f := NewSTTFallback(primary, "deepgram", FallbackConfig{})
	f.AddFallback("deepgram-eu", spare)

	cfg := stt.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en"}
	h, err := f.StartStream(context.Background(), cfg)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if h != stt.SessionHandle(sess) {
		t.Error("expected the spare's session")
	}
	if primary.CallCount() != 1 || spare.CallCount() != 1 {
		t.Errorf("calls primary=%d spare=%d", primary.CallCount(), spare.CallCount())
	}
	if got := spare.StartStreamCalls[0].Cfg; got.SampleRate != 16000 || got.Language != "en" {
		t.Errorf("config not forwarded: %+v", got)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	t.Parallel()
	f := NewSTTFallback(&sttmock.Provider{StartStreamErr: errors.New("down")}, "deepgram", FallbackConfig{})
	if _, err := f.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
	if f.Group().Breaker("deepgram") == nil {
		t.Error("primary breaker missing")
	}
}
