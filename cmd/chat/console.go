package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/mkells/chatsync/internal/model/chat"
)

// consolePresenter renders the conversation as plain text. All rendering
// concerns live here; the lifecycle service only decides what to show.
type consolePresenter struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsolePresenter(out io.Writer) *consolePresenter {
	return &consolePresenter{out: out}
}

func (p *consolePresenter) UserMessage(rec chat.MessageRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "ME  %s  %s\n", rec.Timestamp.Local().Format("15:04"), rec.Question)
}

func (p *consolePresenter) AssistantMessage(rec chat.MessageRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	suffix := ""
	if rec.Duration != nil {
		suffix = fmt.Sprintf(" • %.1fs", *rec.Duration)
	}
	fmt.Fprintf(p.out, "AI  %s  %s%s\n", rec.Timestamp.Local().Format("15:04"), rec.Answer, suffix)
}

func (p *consolePresenter) Notice(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "--  %s\n", text)
}
