// Package extract locates the function annotation on a UniProt entry page and
// converts it to plain text.
//
// The page is scanned line by line for one of the marker phrases. Scanning stops
// at the first line holding the terminator token. On the marker line, everything
// after the first sub-heading token is treated as an HTML fragment and rendered
// as readable prose.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/uniprot-annotator/internal/annotation"
)

// Marker phrases and tokens used on UniProt entry pages.
const (
	FunctionMarker    = "This section provides any useful information about the protein, mostly biological knowledge"
	PathologyMarker   = "This subsection of the ‘Pathology and Biotech’ section provides information"
	DefaultSubheading = "Function<sup>i</sup>"
	DefaultTerminator = "</html>"
)

// Reasons an entry page yields no annotation. All wrap annotation.ErrNoAnnotation.
var (
	ErrEmptyBody       = fmt.Errorf("%w: empty response body", annotation.ErrNoAnnotation)
	ErrNoMarker        = fmt.Errorf("%w: marker phrase not found", annotation.ErrNoAnnotation)
	ErrNoSubheading    = fmt.Errorf("%w: sub-heading not found on marker line", annotation.ErrNoAnnotation)
	ErrEmptyAnnotation = fmt.Errorf("%w: annotation converted to empty text", annotation.ErrNoAnnotation)
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// DefaultMarkers returns the marker phrases recognized out of the box.
func DefaultMarkers() []string {
	return []string{FunctionMarker, PathologyMarker}
}

// Config controls which tokens the Extractor looks for.
type Config struct {
	Markers    []string
	Subheading string
	Terminator string
}

// Extractor implements annotation.Extractor.
type Extractor struct {
	cfg       Config
	converter *md.Converter
}

// New builds an Extractor, filling unset fields with the UniProt defaults.
func New(cfg Config) *Extractor {
	if len(cfg.Markers) == 0 {
		cfg.Markers = DefaultMarkers()
	}
	if cfg.Subheading == "" {
		cfg.Subheading = DefaultSubheading
	}
	if cfg.Terminator == "" {
		cfg.Terminator = DefaultTerminator
	}
	return &Extractor{
		cfg:       cfg,
		converter: newConverter(),
	}
}

// Extract returns the plain-text annotation held in body.
func (e *Extractor) Extract(body []byte) (string, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", ErrEmptyBody
	}
	line, err := e.markerLine(string(body))
	if err != nil {
		return "", err
	}
	_, fragment, ok := strings.Cut(line, e.cfg.Subheading)
	if !ok {
		return "", ErrNoSubheading
	}
	text, err := e.ToText(fragment)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyAnnotation
	}
	return text, nil
}

// markerLine returns the first line holding a marker phrase. The terminator is
// checked first, so a line holding both ends the scan.
func (e *Extractor) markerLine(page string) (string, error) {
	for _, line := range strings.Split(page, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.Contains(line, e.cfg.Terminator) {
			break
		}
		for _, marker := range e.cfg.Markers {
			if marker != "" && strings.Contains(line, marker) {
				return line, nil
			}
		}
	}
	return "", ErrNoMarker
}

// ToText converts an HTML fragment to readable prose.
func (e *Extractor) ToText(fragment string) (string, error) {
	out, err := e.converter.ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("convert annotation html: %w", err)
	}
	return cleanText(out), nil
}

func newConverter() *md.Converter {
	conv := md.NewConverter("", true, &md.Options{EscapeMode: "disabled"})
	conv.Remove("script", "style", "noscript", "button")
	conv.AddRules(
		md.Rule{
			// Keep link text, drop the target.
			Filter: []string{"a", "em", "i", "strong", "b", "code"},
			Replacement: func(content string, _ *goquery.Selection, _ *md.Options) *string {
				return md.String(content)
			},
		},
		md.Rule{
			Filter: []string{"img"},
			Replacement: func(string, *goquery.Selection, *md.Options) *string {
				return md.String("")
			},
		},
		md.Rule{
			Filter: []string{"h1", "h2", "h3", "h4", "h5", "h6"},
			Replacement: func(content string, _ *goquery.Selection, _ *md.Options) *string {
				return md.String("\n\n" + strings.TrimSpace(content) + "\n\n")
			},
		},
	)
	return conv
}

func cleanText(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
