// Package document renders merged transcripts into text and markdown
// files.
package document

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audio-transcriber/internal/domain"
)

// Details describes how a transcript was produced; rendered into the
// document header.
type Details struct {
	Model       string
	Language    string
	Device      string
	SampleRate  int
	Channels    int
	ChunkLength time.Duration
	Diarization bool
	Workers     int
	Chunks      int
	GeneratedAt time.Time

	// Log carries notable processing messages appended after the
	// transcript body.
	Log []string
}

// Writer exports transcripts into the output directory.
type Writer struct {
	outputDir string
}

// NewWriter builds a writer rooted at outputDir.
func NewWriter(outputDir string) *Writer {
	return &Writer{outputDir: outputDir}
}

// WithOutputDir returns a writer rooted at a different directory.
func (w *Writer) WithOutputDir(outputDir string) *Writer {
	return &Writer{outputDir: outputDir}
}

// Write renders a transcript in the requested format ("txt" or "md")
// and returns the written file path.
func (w *Writer) Write(transcript domain.Transcript, details Details, format string) (string, error) {
	var content string
	var ext string

	switch format {
	case "md":
		content = RenderMarkdown(transcript, details)
		ext = ".md"
	case "txt", "":
		content = RenderText(transcript, details)
		ext = ".txt"
	default:
		return "", domain.NewCodedError(domain.CodeInvalidConfiguration,
			fmt.Sprintf("unsupported output format %q", format), nil)
	}

	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(transcript.Input), filepath.Ext(transcript.Input))
	path := filepath.Join(w.outputDir, base+"_transcript"+ext)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	return path, nil
}

// RenderText builds the plain text document: a header block followed
// by one timecoded line per utterance.
func RenderText(transcript domain.Transcript, details Details) string {
	var b strings.Builder

	title := strings.TrimSuffix(filepath.Base(transcript.Input), filepath.Ext(transcript.Input))
	b.WriteString("Transcript: " + title + "\n")
	b.WriteString(strings.Repeat("=", len("Transcript: "+title)) + "\n\n")
	writeDetails(&b, transcript, details, "")
	b.WriteString("\n")

	for _, u := range transcript.Utterances {
		b.WriteString(utteranceLine(u))
		b.WriteString("\n")
	}

	if len(details.Log) > 0 {
		b.WriteString("\nProcessing log\n--------------\n")
		for _, line := range details.Log {
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

// RenderMarkdown builds the markdown document with the same content
// as the text rendering plus heading structure.
func RenderMarkdown(transcript domain.Transcript, details Details) string {
	var b strings.Builder

	title := strings.TrimSuffix(filepath.Base(transcript.Input), filepath.Ext(transcript.Input))
	b.WriteString("# Transcript: " + title + "\n\n")
	b.WriteString("## Processing details\n\n")
	writeDetails(&b, transcript, details, "- ")
	b.WriteString("\n## Transcript\n\n")

	for _, u := range transcript.Utterances {
		b.WriteString(utteranceLine(u))
		b.WriteString("\n\n")
	}

	if len(details.Log) > 0 {
		b.WriteString("## Processing log\n\n")
		for _, line := range details.Log {
			b.WriteString("- " + line + "\n")
		}
	}
	return b.String()
}

// writeDetails emits the processing details block, prefixing each line
// with prefix (empty for text, "- " for markdown lists).
func writeDetails(b *strings.Builder, transcript domain.Transcript, details Details, prefix string) {
	generatedAt := details.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	lines := []string{
		fmt.Sprintf("Source: %s", transcript.Input),
		fmt.Sprintf("Duration: %s", formatTimecode(transcript.Duration)),
		fmt.Sprintf("Generated: %s", generatedAt.Format("2006-01-02 15:04:05")),
	}
	if details.Model != "" {
		lines = append(lines, fmt.Sprintf("Model: %s", details.Model))
	}
	if details.Language != "" {
		lines = append(lines, fmt.Sprintf("Language: %s", details.Language))
	}
	if details.Device != "" {
		lines = append(lines, fmt.Sprintf("Device: %s", details.Device))
	}
	if details.SampleRate > 0 {
		lines = append(lines, fmt.Sprintf("Audio: %d Hz, %d channel(s)", details.SampleRate, details.Channels))
	}
	if details.ChunkLength > 0 {
		lines = append(lines, fmt.Sprintf("Chunk length: %s", details.ChunkLength))
	}
	if details.Chunks > 0 {
		lines = append(lines, fmt.Sprintf("Chunks: %d (workers: %d)", details.Chunks, details.Workers))
	}
	lines = append(lines, fmt.Sprintf("Diarization: %s", onOff(details.Diarization)))

	for _, line := range lines {
		b.WriteString(prefix + line + "\n")
	}
}

// utteranceLine formats one utterance as
// "[MM:SS - MM:SS] SPEAKER_00: text" with the speaker omitted when
// unattributed.
func utteranceLine(u domain.Utterance) string {
	timecode := fmt.Sprintf("[%s - %s]", formatTimecode(u.Start), formatTimecode(u.End))
	text := strings.TrimSpace(u.Text)
	if u.Speaker != "" {
		return fmt.Sprintf("%s %s: %s", timecode, u.Speaker, text)
	}
	return fmt.Sprintf("%s %s", timecode, text)
}

// formatTimecode renders MM:SS, growing to HH:MM:SS past one hour.
func formatTimecode(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
