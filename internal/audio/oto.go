package audio

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process
var (
	otoOnce    sync.Once
	otoContext *oto.Context
	otoErr     error
)

type otoBackend struct {
	ctx *oto.Context
}

// OtoBackend opens the process-wide output device on first use
func OtoBackend(sampleRate int) BackendFactory {
	return func() (Backend, error) {
		otoOnce.Do(func() {
			ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
				SampleRate:   sampleRate,
				ChannelCount: 1,
				Format:       oto.FormatSignedInt16LE,
			})
			if err != nil {
				otoErr = fmt.Errorf("open audio device: %w", err)
				return
			}
			<-ready
			otoContext = ctx
		})
		if otoErr != nil {
			return nil, otoErr
		}
		return &otoBackend{ctx: otoContext}, nil
	}
}

func (b *otoBackend) NewPlayer(r io.Reader) Player {
	return b.ctx.NewPlayer(r)
}
