package supervisor

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// hostBinder funnels process-wide termination signals to every registered
// supervisor. The handler is installed at most once per host process even
// when several supervisors coexist.
var hostBinder struct {
	once sync.Once
	mu   sync.Mutex
	sups []*Supervisor
}

// reraiseFn re-delivers the signal with default disposition after the sweep.
// Replaceable in tests.
var reraiseFn = reraise

// BindHostSignals ties the supervisor's lifetime to the host process:
// SIGINT or SIGTERM triggers a kill-all sweep on every bound supervisor
// before the host terminates.
func BindHostSignals(s *Supervisor) {
	hostBinder.mu.Lock()
	hostBinder.sups = append(hostBinder.sups, s)
	hostBinder.mu.Unlock()

	hostBinder.once.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-ch
			signal.Stop(ch)

			hostBinder.mu.Lock()
			sups := append([]*Supervisor(nil), hostBinder.sups...)
			hostBinder.mu.Unlock()

			var wg sync.WaitGroup
			for _, sup := range sups {
				wg.Add(1)
				go func(sup *Supervisor) {
					defer wg.Done()
					sup.KillAll()
				}(sup)
			}
			wg.Wait()
			reraiseFn(sig)
		}()
	})
}

func reraise(sig os.Signal) {
	signal.Reset(sig)
	if p, err := os.FindProcess(os.Getpid()); err == nil {
		if err := p.Signal(sig); err == nil {
			return
		}
	}
	// Signal delivery to self is unsupported on some platforms.
	os.Exit(1)
}
