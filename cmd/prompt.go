package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	questionInput  = "Please provide the full path and filename of the file you would like to work with: "
	questionColumn = "What is the name of the column containing the UNIPROT IDs (case-sensitive)?: "
	questionOther  = "Does this column contain any other annotations beside the UNIPROT ID? (yes/no): "
	questionPrefix = "Please provide the text ahead of the UNIPROT ID: "
	questionMulti  = "Would you like to multiprocess (multiprocessing will speed up performance of the " +
		"scraper but may slow down other operations on your machine)? (yes/no): "
)

// accessionWidth is the length of a classic UniProt accession, applied when the
// identifier column carries extra text.
const accessionWidth = 6

// prompter asks line-oriented questions on an interactive terminal.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// ask prints question and returns the answer without its line ending.
func (p *prompter) ask(question string) (string, error) {
	if _, err := fmt.Fprint(p.out, question); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// confirm treats "yes" or "y" in any case as agreement and anything else as no.
func (p *prompter) confirm(question string) (bool, error) {
	answer, err := p.ask(question)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y":
		return true, nil
	default:
		return false, nil
	}
}
