package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/trezcool/presensi/core"
)

// linePrompter asks y/N questions on a line based terminal.
type linePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

var _ core.Prompter = (*linePrompter)(nil) // interface compliance check

func newLinePrompter(in io.Reader, out io.Writer) *linePrompter {
	return &linePrompter{in: bufio.NewReader(in), out: out}
}

// Confirm defaults to no; end of input counts as no.
func (p *linePrompter) Confirm(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprintf(p.out, "%s [y/N] ", question)
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
