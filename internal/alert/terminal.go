package alert

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/samber/lo"
)

// TerminalPresenter prints a banner on entry and a line for each later change
type TerminalPresenter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewTerminalPresenter(out io.Writer) *TerminalPresenter {
	return &TerminalPresenter{out: out}
}

func (p *TerminalPresenter) Present(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case s.Flash:
		classes := lo.Map(s.Detections, func(d models.Detection, _ int) string {
			return fmt.Sprintf("%s %.0f%%", d.ClassName, d.Confidence*100)
		})
		bar := strings.Repeat("!", 48)
		fmt.Fprintf(p.out, "\a%s\n  %s on %s at %s\n  %s\n%s\n",
			bar, strings.ToUpper(s.Message), s.DeviceID, s.StartedAt.Format(time.TimeOnly),
			strings.Join(classes, ", "), bar)
	case s.Alerting && !s.ToastVisible:
		fmt.Fprintln(p.out, "alert dismissed, siren continues until the dwell elapses")
	case !s.Alerting:
		fmt.Fprintln(p.out, "alert cleared")
	}
}
