package whatsapp

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
)

// Pairing tracks the QR code of an in-progress device link.
type Pairing struct {
	terminal bool
	out      io.Writer

	mu      sync.RWMutex
	code    string
	paired  bool
	updated time.Time
}

// NewPairing creates the pairing state. When terminal is set every new
// code is also rendered to out (stdout if nil).
func NewPairing(terminal bool, out io.Writer) *Pairing {
	if out == nil {
		out = os.Stdout
	}
	return &Pairing{terminal: terminal, out: out}
}

// Code returns the current QR payload. ok is false when no code is pending.
func (p *Pairing) Code() (code string, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.code, p.code != ""
}

// Paired reports whether the device is linked.
func (p *Pairing) Paired() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paired
}

// UpdatedAt is the time of the last state change.
func (p *Pairing) UpdatedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updated
}

func (p *Pairing) setCode(code string) {
	p.mu.Lock()
	p.code = code
	p.paired = false
	p.updated = time.Now()
	p.mu.Unlock()

	if p.terminal && code != "" {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, p.out)
	}
}

func (p *Pairing) clearCode() {
	p.mu.Lock()
	p.code = ""
	p.updated = time.Now()
	p.mu.Unlock()
}

func (p *Pairing) setPaired() {
	p.mu.Lock()
	p.code = ""
	p.paired = true
	p.updated = time.Now()
	p.mu.Unlock()
}

func (p *Pairing) setUnpaired() {
	p.mu.Lock()
	p.paired = false
	p.updated = time.Now()
	p.mu.Unlock()
}
