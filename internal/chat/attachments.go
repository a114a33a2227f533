package chat

import (
	"regexp"
	"sort"
	"strings"

	"github.com/zombor/chat-payments/internal/textnorm"
)

const imageExt = `(?i:jpe?g|png|gif|webp|heic|heif)`

var (
	// <attached: 00000012-PHOTO-2024-03-12-14-05-09.jpg>
	iosAttachment = regexp.MustCompile(`<attached:\s*(?P<name>[^<>]+?\.` + imageExt + `)\s*>`)
	// IMG-20240312-WA0001.jpg (file attached)
	androidAttachment = regexp.MustCompile(`(?P<name>[^\s<>:]+\.` + imageExt + `)\s+\(file attached\)`)
)

type attachmentHit struct {
	name       string
	start, end int
}

func attachmentHits(line string) []attachmentHit {
	var hits []attachmentHit
	for _, re := range []*regexp.Regexp{iosAttachment, androidAttachment} {
		idx := re.SubexpIndex("name")
		for _, loc := range re.FindAllStringSubmatchIndex(line, -1) {
			hits = append(hits, attachmentHit{
				name:  strings.TrimSpace(line[loc[2*idx]:loc[2*idx+1]]),
				start: loc[0],
				end:   loc[1],
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	return hits
}

// ScanAttachments lists the image files referenced anywhere in transcript,
// unique and in first-seen order. Lines need not be chat messages.
func ScanAttachments(transcript string) []string {
	var seen attachmentSet
	for _, line := range textnorm.Lines(transcript) {
		for _, hit := range attachmentHits(line) {
			seen.add(hit.name)
		}
	}
	return seen.names
}

type attachmentSet struct {
	names []string
	index map[string]struct{}
}

func (s *attachmentSet) add(name string) {
	if name == "" {
		return
	}
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[name]; ok {
		return
	}
	s.index[name] = struct{}{}
	s.names = append(s.names, name)
}

// stripAttachments removes attachment markers from text.
func stripAttachments(text string) string {
	hits := attachmentHits(text)
	if len(hits) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, h := range hits {
		if h.start < last {
			continue
		}
		b.WriteString(text[last:h.start])
		b.WriteByte(' ')
		last = h.end
	}
	b.WriteString(text[last:])
	return b.String()
}
