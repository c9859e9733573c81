// Package playlist renders the HLS manifest that references segments through
// placeholder tokens.
package playlist

import (
	"fmt"
	"sort"
	"strings"
)

const placeholderPrefix = "SEGMENT_PLACEHOLDER_"

// Placeholder is the token standing in for segment i until the caller
// substitutes a real reference.
func Placeholder(i int) string {
	return fmt.Sprintf("%s%d", placeholderPrefix, i)
}

// Playlist is an ordered list of placeholders with a nominal per-segment
// duration, used only as a manifest hint.
type Playlist struct {
	TargetDuration int
	Placeholders   []string
}

// Build creates a playlist for segments with the given indices. Indices must
// form the contiguous range 0..n-1 in any order.
func Build(indices []int, targetDuration int) (*Playlist, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("playlist: no segments")
	}
	if targetDuration <= 0 {
		return nil, fmt.Errorf("playlist: invalid target duration %d", targetDuration)
	}

	sorted := append([]int(nil), indices...)
	sort.Ints(sorted)
	for want, got := range sorted {
		if got != want {
			return nil, fmt.Errorf("playlist: segment indices are not contiguous: expected %d, got %d", want, got)
		}
	}

	p := &Playlist{TargetDuration: targetDuration, Placeholders: make([]string, len(sorted))}
	for i := range sorted {
		p.Placeholders[i] = Placeholder(i)
	}
	return p, nil
}

// String renders the manifest text. The line set and order are fixed.
func (p *Playlist) String() string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-ALLOW-CACHE:YES\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", p.TargetDuration)
	for _, ph := range p.Placeholders {
		fmt.Fprintf(&b, "#EXTINF:%d,\n", p.TargetDuration)
		b.WriteString(ph)
		b.WriteByte('\n')
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// Resolve replaces each placeholder line with refs[i]. It is the caller-side
// substitution step run after segments have been uploaded.
func Resolve(text string, refs []string) (string, error) {
	lines := strings.Split(text, "\n")
	seen := 0
	for i, line := range lines {
		if !strings.HasPrefix(line, placeholderPrefix) {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(line, placeholderPrefix+"%d", &idx); err != nil || Placeholder(idx) != line {
			return "", fmt.Errorf("playlist: malformed placeholder %q", line)
		}
		if idx < 0 || idx >= len(refs) {
			return "", fmt.Errorf("playlist: no reference for segment %d", idx)
		}
		lines[i] = refs[idx]
		seen++
	}
	if seen != len(refs) {
		return "", fmt.Errorf("playlist: %d placeholders for %d references", seen, len(refs))
	}
	return strings.Join(lines, "\n"), nil
}
