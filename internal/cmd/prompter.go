package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jszach/conductor/internal/approval"
	"github.com/jszach/conductor/internal/event"
)

// approvalPrompter resolves approval requests interactively from a
// terminal. The gate publishes approval.requested synchronously from
// the suspended step's goroutine, so the prompt is answered from a
// separate goroutine; a mutex serializes overlapping prompts.
type approvalPrompter struct {
	registry *approval.Registry
	in       *bufio.Reader
	out      io.Writer
	mu       sync.Mutex
}

func newApprovalPrompter(registry *approval.Registry, in io.Reader, out io.Writer) *approvalPrompter {
	return &approvalPrompter{
		registry: registry,
		in:       bufio.NewReader(in),
		out:      out,
	}
}

// Handle is the bus subscriber for approval.requested events.
func (p *approvalPrompter) Handle(ev event.Event) {
	req, ok := ev.(event.ApprovalRequestedEvent)
	if !ok {
		return
	}
	go p.prompt(req)
}

func (p *approvalPrompter) prompt(req event.ApprovalRequestedEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\n%s\n", promptStyle.Render("Approval required"))
	fmt.Fprintf(p.out, "  Category:    %s\n", req.Category)
	if req.Description != "" {
		fmt.Fprintf(p.out, "  Action:      %s\n", req.Description)
	}
	fmt.Fprintf(p.out, "  Expires in:  %s\n", time.Until(req.ExpiresAt).Round(time.Second))
	fmt.Fprintf(p.out, "Allow? [y/N]: ")

	line, err := p.in.ReadString('\n')
	if err != nil {
		// Stdin closed; leave the request to expire.
		return
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	approved := answer == "y" || answer == "yes"

	if !p.registry.Resolve(req.ApprovalID, approved) {
		fmt.Fprintln(p.out, mutedStyle.Render("Request already expired."))
		return
	}
	if approved {
		fmt.Fprintln(p.out, "Approved.")
	} else {
		fmt.Fprintln(p.out, "Rejected.")
	}
}
