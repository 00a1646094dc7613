// Copyright (c) 2024 Netskope, Inc. All rights reserved.

// Package prompt asks an operator questions on a terminal.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrNoInput is returned when input ends before a valid answer.
var ErrNoInput = errors.New("no input")

// DeleteMode is the answer to the deletion question.
type DeleteMode int

const (
	ModeSkip DeleteMode = iota
	ModeLive
	ModeDryRun
)

func (m DeleteMode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeDryRun:
		return "dry"
	default:
		return "skip"
	}
}

// Prompter reads answers from in and writes questions to out. Invalid
// answers are re-asked.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// New creates a Prompter.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrNoInput
		}
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (p *Prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	return p.readLine()
}

// YesNo asks question until the answer is y or n.
func (p *Prompter) YesNo(question string) (bool, error) {
	for {
		ans, err := p.ask(question + " (y/n): ")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(ans) {
		case "y":
			return true, nil
		case "n":
			return false, nil
		}
		fmt.Fprintln(p.out, "Please enter 'y' or 'n'.")
	}
}

// DeleteMode asks whether to delete live, skip, or do a dry run.
func (p *Prompter) DeleteMode(question string) (DeleteMode, error) {
	for {
		ans, err := p.ask(question + " (y/n/dry): ")
		if err != nil {
			return ModeSkip, err
		}
		switch strings.ToLower(ans) {
		case "y", "yes":
			return ModeLive, nil
		case "n", "no":
			return ModeSkip, nil
		case "d", "dry":
			return ModeDryRun, nil
		}
		fmt.Fprintln(p.out, "Please enter 'y', 'n', or 'dry'.")
	}
}

// Int asks question until the answer is an integer.
func (p *Prompter) Int(question string) (int, error) {
	for {
		ans, err := p.ask(question)
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(ans)
		if err == nil {
			return n, nil
		}
		fmt.Fprintln(p.out, "Please enter a valid integer.")
	}
}

// NonNegativeInt is Int restricted to values >= 0.
func (p *Prompter) NonNegativeInt(question string) (int, error) {
	for {
		n, err := p.Int(question)
		if err != nil || n >= 0 {
			return n, err
		}
		fmt.Fprintln(p.out, "Please enter a number of 0 or more.")
	}
}

// Text asks question and returns the trimmed answer, which may be empty.
func (p *Prompter) Text(question string) (string, error) {
	return p.ask(question)
}

// Choose prints a numbered list of options and returns the 0-based index of
// the chosen one.
func (p *Prompter) Choose(title string, options []string, question string) (int, error) {
	if len(options) == 0 {
		return 0, errors.New("nothing to choose from")
	}
	fmt.Fprintf(p.out, "\n=== %s ===\n\n", title)
	for i, opt := range options {
		fmt.Fprintf(p.out, "[%d]  %s\n", i+1, opt)
	}
	fmt.Fprintln(p.out, "\n-------------------------------------")

	for {
		n, err := p.Int(question)
		if err != nil {
			return 0, err
		}
		if n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		fmt.Fprintf(p.out, "Please enter a number between 1 and %d.\n", len(options))
	}
}
