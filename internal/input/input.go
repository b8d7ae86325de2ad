// Package input collects run parameters from an input file or interactive
// prompts, and implements the interactive section-review loop.
package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/calmhollow/sleepscript/internal/script"
)

// Params are the user-supplied run parameters. RunTTS is nil when the
// input did not decide, so interactive runs can ask at the end.
type Params struct {
	Topic             string
	Direction         string
	TotalMinutes      int
	ResearchInfluence float64
	RunTTS            *bool
}

// ReadFile parses the newline-delimited input file: topic, direction,
// total minutes, research influence, and an optional tts yes/no line.
// Blank direction means general overview.
func ReadFile(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("read input file: %w", err)
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) < 4 {
		return Params{}, fmt.Errorf("input file %s needs at least 4 lines (topic, direction, minutes, influence), got %d", path, len(lines))
	}

	p := Params{
		Topic:     strings.TrimSpace(lines[0]),
		Direction: strings.TrimSpace(lines[1]),
	}
	if p.Topic == "" {
		return Params{}, fmt.Errorf("input file %s line 1: topic is empty", path)
	}

	minutes, err := strconv.Atoi(strings.TrimSpace(lines[2]))
	if err != nil || minutes < 1 {
		return Params{}, fmt.Errorf("input file %s line 3: total minutes %q invalid", path, lines[2])
	}
	p.TotalMinutes = minutes

	influence, err := strconv.ParseFloat(strings.TrimSpace(lines[3]), 64)
	if err != nil || influence < 0 || influence > 1 {
		return Params{}, fmt.Errorf("input file %s line 4: research influence %q must be in [0,1]", path, lines[3])
	}
	p.ResearchInfluence = influence

	if len(lines) > 4 && strings.TrimSpace(lines[4]) != "" {
		tts := isYes(lines[4])
		p.RunTTS = &tts
	}
	return p, nil
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true", "1":
		return true
	default:
		return false
	}
}

// Prompt collects parameters interactively.
func Prompt(r io.Reader, w io.Writer) (Params, error) {
	scanner := bufio.NewScanner(r)
	var p Params

	for p.Topic == "" {
		fmt.Fprint(w, "Topic: ")
		line, err := readLine(scanner)
		if err != nil {
			return Params{}, err
		}
		p.Topic = strings.TrimSpace(line)
	}

	fmt.Fprint(w, "Direction (blank for a general overview): ")
	line, err := readLine(scanner)
	if err != nil {
		return Params{}, err
	}
	p.Direction = strings.TrimSpace(line)

	for p.TotalMinutes < 1 {
		fmt.Fprint(w, "Target length in minutes: ")
		line, err := readLine(scanner)
		if err != nil {
			return Params{}, err
		}
		if n, convErr := strconv.Atoi(strings.TrimSpace(line)); convErr == nil && n >= 1 {
			p.TotalMinutes = n
		} else {
			fmt.Fprintln(w, "Please enter a whole number of minutes.")
		}
	}

	p.ResearchInfluence = -1
	for p.ResearchInfluence < 0 || p.ResearchInfluence > 1 {
		fmt.Fprint(w, "Research influence 0.0-1.0 (1.0 sticks to the research): ")
		line, err := readLine(scanner)
		if err != nil {
			return Params{}, err
		}
		if f, convErr := strconv.ParseFloat(strings.TrimSpace(line), 64); convErr == nil {
			p.ResearchInfluence = f
		}
		if p.ResearchInfluence < 0 || p.ResearchInfluence > 1 {
			fmt.Fprintln(w, "Please enter a value between 0.0 and 1.0.")
		}
	}
	return p, nil
}

// PromptYesNo asks a yes/no question.
func PromptYesNo(r io.Reader, w io.Writer, question string) (bool, error) {
	scanner := bufio.NewScanner(r)
	fmt.Fprintf(w, "%s [y/N]: ", question)
	line, err := readLine(scanner)
	if err != nil {
		return false, err
	}
	return isYes(line), nil
}

func readLine(scanner *bufio.Scanner) (string, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return scanner.Text(), nil
}

// ConsoleReviewer shows each proposed plan and collects confirmation or
// feedback on the terminal. It satisfies the pipeline's Reviewer interface.
type ConsoleReviewer struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func NewConsoleReviewer(r io.Reader, w io.Writer) *ConsoleReviewer {
	return &ConsoleReviewer{scanner: bufio.NewScanner(r), out: w}
}

func (c *ConsoleReviewer) Review(sections []script.Section, totalMinutes int) (string, bool, error) {
	fmt.Fprintf(c.out, "\nProposed sections (%d planned minutes, %d requested):\n",
		script.TotalEstimatedMinutes(sections), totalMinutes)
	for i, sec := range sections {
		fmt.Fprintf(c.out, "  %d. %s (%d min)\n     %s\n", i+1, sec.Title, sec.EstimatedMinutes, sec.Description)
	}
	fmt.Fprint(c.out, "\nPress enter to accept, or describe what to change: ")

	line, err := readLine(c.scanner)
	if err != nil {
		return "", false, err
	}
	feedback := strings.TrimSpace(line)
	if feedback == "" {
		return "", true, nil
	}
	return feedback, false, nil
}
